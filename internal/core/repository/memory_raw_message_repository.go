package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

type inMemoryRawMessageRepository struct {
	messages map[string]model.RawMessage
	mutex    sync.RWMutex
}

// NewInMemoryRawMessageRepository backs the raw archive when no Mongo URI is configured.
func NewInMemoryRawMessageRepository() RawMessageRepository {
	return &inMemoryRawMessageRepository{
		messages: make(map[string]model.RawMessage),
	}
}

func (r *inMemoryRawMessageRepository) Create(_ context.Context, msg *model.RawMessage) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	r.messages[msg.ID] = *msg
	return nil
}

func (r *inMemoryRawMessageRepository) Update(_ context.Context, msg *model.RawMessage) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.messages[msg.ID]; !exists {
		return ErrNotFound
	}
	msg.UpdatedAt = time.Now().UTC()
	r.messages[msg.ID] = *msg
	return nil
}

func (r *inMemoryRawMessageRepository) FindByID(_ context.Context, id string) (*model.RawMessage, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	msg, exists := r.messages[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &msg, nil
}

func (r *inMemoryRawMessageRepository) FindRetryable(_ context.Context, maxAttempts int, claimedBefore time.Time, limit int) ([]*model.RawMessage, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.RawMessage
	for _, msg := range r.messages {
		if msg.Status != model.RawStatusOK || msg.Attempts >= maxAttempts {
			continue
		}
		stale := msg.ProcessedStage == model.StageClaimed && msg.UpdatedAt.Before(claimedBefore)
		if msg.ProcessedStage == model.StagePending || stale {
			m := msg
			result = append(result, &m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
