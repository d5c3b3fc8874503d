package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

type inMemoryCanonicalRepository struct {
	messages map[string]model.CanonicalMessage // by dedup key
	nextID   int64
	mutex    sync.RWMutex
}

func NewInMemoryCanonicalRepository() CanonicalMessageRepository {
	return &inMemoryCanonicalRepository{
		messages: make(map[string]model.CanonicalMessage),
	}
}

func (r *inMemoryCanonicalRepository) FindByDedupKey(_ context.Context, key string) (*model.CanonicalMessage, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if msg, exists := r.messages[key]; exists {
		return &msg, nil
	}
	return nil, nil
}

func (r *inMemoryCanonicalRepository) Save(_ context.Context, msg *model.CanonicalMessage) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, exists := r.messages[msg.DedupKey]; exists {
		*msg = existing
		return nil
	}
	r.nextID++
	msg.ID = r.nextID
	msg.Persisted = true
	r.messages[msg.DedupKey] = *msg
	return nil
}

func (r *inMemoryCanonicalRepository) UpdateDelivery(_ context.Context, msg *model.CanonicalMessage) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stored, exists := r.messages[msg.DedupKey]
	if !exists {
		return ErrNotFound
	}
	stored.IsSent = msg.IsSent
	stored.NumTries = msg.NumTries
	stored.Info = msg.Info
	stored.OriginType = msg.OriginType
	stored.OriginID = msg.OriginID
	r.messages[msg.DedupKey] = stored
	return nil
}

type inMemoryLocationRepository struct {
	fixes   []model.LocationFix
	infos   []model.InfoRecord
	byKey   map[string]int64
	infoKey map[string]int64
	mutex   sync.RWMutex
}

func NewInMemoryLocationRepository() LocationRepository {
	return &inMemoryLocationRepository{
		byKey:   make(map[string]int64),
		infoKey: make(map[string]int64),
	}
}

func (r *inMemoryLocationRepository) CreateFix(_ context.Context, fix *model.LocationFix) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if id, exists := r.byKey[fix.DedupKey]; exists {
		fix.ID = id
		return nil
	}
	fix.ID = int64(len(r.fixes) + 1)
	fix.CreatedAt = time.Now().UTC()
	r.fixes = append(r.fixes, *fix)
	r.byKey[fix.DedupKey] = fix.ID
	return nil
}

func (r *inMemoryLocationRepository) CreateInfo(_ context.Context, rec *model.InfoRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if id, exists := r.infoKey[rec.DedupKey]; exists {
		rec.ID = id
		return nil
	}
	rec.ID = int64(len(r.infos) + 1)
	rec.CreatedAt = time.Now().UTC()
	r.infos = append(r.infos, *rec)
	r.infoKey[rec.DedupKey] = rec.ID
	return nil
}

func (r *inMemoryLocationRepository) FixesAfter(_ context.Context, afterID int64, limit int) ([]model.LocationFix, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []model.LocationFix
	for _, fix := range r.fixes {
		if fix.ID > afterID {
			result = append(result, fix)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *inMemoryLocationRepository) findFix(id int64) (model.LocationFix, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, fix := range r.fixes {
		if fix.ID == id {
			return fix, true
		}
	}
	return model.LocationFix{}, false
}
