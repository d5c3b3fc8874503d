package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

// ContainsFunc stands in for the store's point-in-polygon test.
type ContainsFunc func(fence model.Geofence, lat, lng float64) (bool, error)

var ErrNoContainment = errors.New("no containment test configured")

type inMemoryGeofenceRepository struct {
	fences   map[int64]model.Geofence
	nextID   int64
	contains ContainsFunc
	mutex    sync.RWMutex
}

func NewInMemoryGeofenceRepository(contains ContainsFunc) GeofenceRepository {
	return &inMemoryGeofenceRepository{
		fences:   make(map[int64]model.Geofence),
		contains: contains,
	}
}

func (r *inMemoryGeofenceRepository) Create(_ context.Context, fence *model.Geofence) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.nextID++
	fence.ID = r.nextID
	now := time.Now().UTC()
	if fence.CreatedAt.IsZero() {
		fence.CreatedAt = now
	}
	fence.UpdatedAt = now
	r.fences[fence.ID] = *fence
	return nil
}

func (r *inMemoryGeofenceRepository) FindByID(_ context.Context, id int64) (*model.Geofence, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	fence, exists := r.fences[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &fence, nil
}

func (r *inMemoryGeofenceRepository) FindByESN(_ context.Context, esn string) ([]model.Geofence, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []model.Geofence
	for _, fence := range r.fences {
		if fence.ESN == esn && !fence.IsDeleted() {
			result = append(result, fence)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *inMemoryGeofenceRepository) Delete(_ context.Context, id int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	fence, exists := r.fences[id]
	if !exists || fence.IsDeleted() {
		return ErrNotFound
	}
	now := time.Now().UTC()
	fence.DeletedAt = &now
	r.fences[id] = fence
	return nil
}

func (r *inMemoryGeofenceRepository) IncrementAlertsSent(_ context.Context, id int64) error {
	return r.addAlertsSent(id, 1)
}

func (r *inMemoryGeofenceRepository) addAlertsSent(id int64, delta int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	fence, exists := r.fences[id]
	if !exists {
		return ErrNotFound
	}
	fence.NumAlertsSent += delta
	r.fences[id] = fence
	return nil
}

func (r *inMemoryGeofenceRepository) Contains(_ context.Context, geofenceID int64, lat, lng float64) (bool, error) {
	r.mutex.RLock()
	fence, exists := r.fences[geofenceID]
	r.mutex.RUnlock()

	if !exists {
		return false, ErrNotFound
	}
	if r.contains == nil {
		return false, ErrNoContainment
	}
	return r.contains(fence, lat, lng)
}
