package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

type inMemoryFenceStateRepository struct {
	states []model.FenceState
	nextID int64
	mutex  sync.RWMutex
}

func NewInMemoryFenceStateRepository() FenceStateRepository {
	return &inMemoryFenceStateRepository{}
}

func (r *inMemoryFenceStateRepository) Latest(_ context.Context, esn string, geofenceID int64) (*model.FenceState, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var latest *model.FenceState
	for i := range r.states {
		s := r.states[i]
		if s.ESN != esn || s.GeofenceID != geofenceID {
			continue
		}
		if latest == nil || s.OccurredAt.After(latest.OccurredAt) || (s.OccurredAt.Equal(latest.OccurredAt) && s.ID > latest.ID) {
			latest = &s
		}
	}
	return latest, nil
}

func (r *inMemoryFenceStateRepository) Create(_ context.Context, state *model.FenceState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.nextID++
	state.ID = r.nextID
	state.CreatedAt = time.Now().UTC()
	r.states = append(r.states, *state)
	return nil
}

func (r *inMemoryFenceStateRepository) remove(id int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := range r.states {
		if r.states[i].ID == id {
			r.states = append(r.states[:i], r.states[i+1:]...)
			return
		}
	}
}

func (r *inMemoryFenceStateRepository) History(_ context.Context, geofenceID int64, limit int) ([]model.FenceState, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []model.FenceState
	for _, s := range r.states {
		if s.GeofenceID == geofenceID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OccurredAt.After(result[j].OccurredAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *inMemoryFenceStateRepository) find(id int64) (model.FenceState, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if id < 1 || int(id) > len(r.states) {
		return model.FenceState{}, false
	}
	return r.states[id-1], true
}

type inMemoryFenceAlertRepository struct {
	alerts    map[int64]model.FenceAlert
	nextID    int64
	states    *inMemoryFenceStateRepository
	locations *inMemoryLocationRepository
	mutex     sync.Mutex
}

// NewInMemoryFenceAlertRepository joins claimed alerts against the given
// in-memory state and location repositories.
func NewInMemoryFenceAlertRepository(states FenceStateRepository, locations LocationRepository) FenceAlertRepository {
	r := &inMemoryFenceAlertRepository{alerts: make(map[int64]model.FenceAlert)}
	r.states, _ = states.(*inMemoryFenceStateRepository)
	r.locations, _ = locations.(*inMemoryLocationRepository)
	return r
}

func (r *inMemoryFenceAlertRepository) Create(_ context.Context, alert *model.FenceAlert) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.nextID++
	alert.ID = r.nextID
	alert.CreatedAt = time.Now().UTC()
	alert.UpdatedAt = alert.CreatedAt
	r.alerts[alert.ID] = *alert
	return nil
}

func (r *inMemoryFenceAlertRepository) remove(id int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.alerts, id)
}

func (r *inMemoryFenceAlertRepository) ClaimPending(_ context.Context, limit, maxAttempts int, claimedBefore time.Time) ([]model.AlertDelivery, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ids := make([]int64, 0, len(r.alerts))
	for id, a := range r.alerts {
		if a.NumTries >= maxAttempts {
			continue
		}
		stale := a.ProcessedStage == model.StageClaimed && a.UpdatedAt.Before(claimedBefore)
		if a.ProcessedStage == model.StagePending || stale {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	deliveries := make([]model.AlertDelivery, 0, len(ids))
	for _, id := range ids {
		deliveries = append(deliveries, r.claim(id))
	}
	return deliveries, nil
}

func (r *inMemoryFenceAlertRepository) Claim(_ context.Context, id int64) (*model.AlertDelivery, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	a, exists := r.alerts[id]
	if !exists || a.ProcessedStage != model.StagePending {
		return nil, nil
	}
	d := r.claim(id)
	return &d, nil
}

// claim must be called with the mutex held.
func (r *inMemoryFenceAlertRepository) claim(id int64) model.AlertDelivery {
	a := r.alerts[id]
	a.ProcessedStage = model.StageClaimed
	a.UpdatedAt = time.Now().UTC()
	r.alerts[id] = a

	d := model.AlertDelivery{Alert: a}
	if r.states != nil {
		if s, ok := r.states.find(a.FenceStateID); ok {
			d.ESN, d.State, d.OccurredAt = s.ESN, s.State, s.OccurredAt
			if r.locations != nil {
				if fix, ok := r.locations.findFix(s.LocationFixID); ok {
					d.Latitude, d.Longitude = fix.Latitude, fix.Longitude
				}
			}
		}
	}
	return d
}

func (r *inMemoryFenceAlertRepository) MarkDelivered(_ context.Context, id int64, responseCode int, response string, sentAt time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	a, exists := r.alerts[id]
	if !exists {
		return ErrNotFound
	}
	a.ProcessedStage = model.StageDone
	a.SentAt = &sentAt
	a.ResponseCode = responseCode
	a.Response = response
	a.NumTries++
	a.Info = ""
	a.UpdatedAt = time.Now().UTC()
	r.alerts[id] = a
	return nil
}

func (r *inMemoryFenceAlertRepository) MarkFailed(_ context.Context, id int64, responseCode int, response, info string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	a, exists := r.alerts[id]
	if !exists {
		return ErrNotFound
	}
	a.ProcessedStage = model.StagePending
	a.ResponseCode = responseCode
	a.Response = response
	a.Info = info
	a.NumTries++
	a.UpdatedAt = time.Now().UTC()
	r.alerts[id] = a
	return nil
}

// Alerts returns a snapshot of every alert in id order.
func (r *inMemoryFenceAlertRepository) Alerts() []model.FenceAlert {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	result := make([]model.FenceAlert, 0, len(r.alerts))
	for _, a := range r.alerts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

type inMemoryWatermarkRepository struct {
	values map[string]int64
	mutex  sync.Mutex
}

func NewInMemoryWatermarkRepository() WatermarkRepository {
	return &inMemoryWatermarkRepository{values: make(map[string]int64)}
}

func (r *inMemoryWatermarkRepository) Read(_ context.Context, name string) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.values[name], nil
}

func (r *inMemoryWatermarkRepository) Advance(_ context.Context, name string, value int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if value > r.values[name] {
		r.values[name] = value
	}
	return nil
}
