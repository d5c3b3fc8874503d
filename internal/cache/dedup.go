package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/SnakeO/gps-catcher/internal/core/message"
	"github.com/SnakeO/gps-catcher/internal/core/model"
)

var _ message.Lookup = (*DedupCache)(nil)

// DedupCache keeps recently seen persisted messages in front of the store.
// Only found messages are cached; a miss always reaches the store.
type DedupCache struct {
	next  message.Lookup
	cache *lru.Cache[string, model.CanonicalMessage]
}

func NewDedupCache(next message.Lookup, size int) (*DedupCache, error) {
	c, err := lru.New[string, model.CanonicalMessage](size)
	if err != nil {
		return nil, err
	}
	return &DedupCache{next: next, cache: c}, nil
}

func (c *DedupCache) FindByDedupKey(ctx context.Context, key string) (*model.CanonicalMessage, error) {
	if msg, ok := c.cache.Get(key); ok {
		return &msg, nil
	}
	msg, err := c.next.FindByDedupKey(ctx, key)
	if err != nil || msg == nil {
		return msg, err
	}
	c.cache.Add(key, *msg)
	return msg, nil
}

// Remember records the latest delivery state of a persisted message.
func (c *DedupCache) Remember(msg model.CanonicalMessage) {
	if msg.DedupKey == "" || !msg.Persisted {
		return
	}
	c.cache.Add(msg.DedupKey, msg)
}

func (c *DedupCache) Len() int {
	return c.cache.Len()
}
