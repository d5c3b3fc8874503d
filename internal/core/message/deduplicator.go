package message

import (
	"context"
	"fmt"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

// Lookup finds a persisted message by dedup key. It returns nil, nil when none exists.
type Lookup interface {
	FindByDedupKey(ctx context.Context, key string) (*model.CanonicalMessage, error)
}

// Deduplicator swaps freshly built messages for their persisted twins.
type Deduplicator struct {
	lookup Lookup
}

func NewDeduplicator(lookup Lookup) *Deduplicator {
	return &Deduplicator{lookup: lookup}
}

// FindOrBuild returns the persisted message with the draft's dedup key, untouched,
// or the draft itself when nothing has been stored yet.
func (d *Deduplicator) FindOrBuild(ctx context.Context, draft model.CanonicalMessage) (*model.CanonicalMessage, error) {
	existing, err := d.lookup.FindByDedupKey(ctx, draft.DedupKey)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", draft.DedupKey, err)
	}
	if existing != nil {
		existing.Persisted = true
		return existing, nil
	}
	msg := draft
	msg.Persisted = false
	return &msg, nil
}

// BuildOrFind builds a message from its parts and resolves it.
func (d *Deduplicator) BuildOrFind(ctx context.Context, externalMessageID string, source model.Source, value, meta, esn string, occurredAt time.Time) (*model.CanonicalMessage, error) {
	c := Context{ExternalMessageID: externalMessageID, ESN: esn, OccurredAt: occurredAt}
	return d.FindOrBuild(ctx, c.Build(source, value, meta))
}

// ResolveAll runs FindOrBuild over a decoder's output, preserving order.
func (d *Deduplicator) ResolveAll(ctx context.Context, drafts []model.CanonicalMessage) ([]*model.CanonicalMessage, error) {
	out := make([]*model.CanonicalMessage, 0, len(drafts))
	for _, draft := range drafts {
		msg, err := d.FindOrBuild(ctx, draft)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
