package repository

import (
	"context"
	"sync"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

type inMemoryTransactor struct {
	repos TransitionRepositories
	mutex sync.Mutex
}

// NewInMemoryTransactor serializes transactions over repos and undoes the
// writes of one whose fn fails. Only writes to the in-memory repositories of
// this package can be undone.
func NewInMemoryTransactor(repos TransitionRepositories) Transactor {
	return &inMemoryTransactor{repos: repos}
}

func (t *inMemoryTransactor) WithTransaction(ctx context.Context, fn func(context.Context, TransitionRepositories) error) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var undo []func()
	err := fn(ctx, TransitionRepositories{
		States:    &undoableStates{FenceStateRepository: t.repos.States, undo: &undo},
		Alerts:    &undoableAlerts{FenceAlertRepository: t.repos.Alerts, undo: &undo},
		Geofences: &undoableGeofences{GeofenceRepository: t.repos.Geofences, undo: &undo},
	})
	if err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	return err
}

type undoableStates struct {
	FenceStateRepository
	undo *[]func()
}

func (u *undoableStates) Create(ctx context.Context, state *model.FenceState) error {
	if err := u.FenceStateRepository.Create(ctx, state); err != nil {
		return err
	}
	if r, ok := u.FenceStateRepository.(*inMemoryFenceStateRepository); ok {
		id := state.ID
		*u.undo = append(*u.undo, func() { r.remove(id) })
	}
	return nil
}

type undoableAlerts struct {
	FenceAlertRepository
	undo *[]func()
}

func (u *undoableAlerts) Create(ctx context.Context, alert *model.FenceAlert) error {
	if err := u.FenceAlertRepository.Create(ctx, alert); err != nil {
		return err
	}
	if r, ok := u.FenceAlertRepository.(*inMemoryFenceAlertRepository); ok {
		id := alert.ID
		*u.undo = append(*u.undo, func() { r.remove(id) })
	}
	return nil
}

type undoableGeofences struct {
	GeofenceRepository
	undo *[]func()
}

func (u *undoableGeofences) IncrementAlertsSent(ctx context.Context, id int64) error {
	if err := u.GeofenceRepository.IncrementAlertsSent(ctx, id); err != nil {
		return err
	}
	if r, ok := u.GeofenceRepository.(*inMemoryGeofenceRepository); ok {
		*u.undo = append(*u.undo, func() { _ = r.addAlertsSent(id, -1) })
	}
	return nil
}
