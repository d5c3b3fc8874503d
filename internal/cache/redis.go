package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrLockHeld = errors.New("lock is held by another worker")
	// ErrLockLost means the lease expired and may now belong to someone else.
	ErrLockLost = errors.New("lock lease lost")
)

// Lease is a held lock. Extend keeps it alive past its original ttl.
type Lease struct {
	release func(ctx context.Context) error
	extend  func(ctx context.Context, ttl time.Duration) error
}

func (l *Lease) Release(ctx context.Context) error {
	return l.release(ctx)
}

// Extend resets the lease to ttl from now. It returns ErrLockLost when the
// lease is no longer ours.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	return l.extend(ctx, ttl)
}

// Lock is a non-blocking mutual exclusion lock with a lease.
type Lock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Connect opens and pings a Redis client.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewLock returns a Redis lock when redisURL is set and a process-local lock
// otherwise. A configured Redis that cannot be reached is an error: falling
// back would let two instances check geofences at once.
func NewLock(ctx context.Context, redisURL string, logger logrus.FieldLogger) (Lock, func() error, error) {
	if redisURL == "" {
		logger.Info("Redis URL not provided, using a process-local lock")
		return NewLocalLock(), func() error { return nil }, nil
	}

	client, err := Connect(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("Redis lock initialized successfully")
	return NewRedisLock(client), client.Close, nil
}

// release deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{
		release: func(ctx context.Context) error {
			return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		},
		extend: func(ctx context.Context, ttl time.Duration) error {
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int()
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrLockLost
			}
			return nil
		},
	}, nil
}

// LocalLock serializes holders within one process.
type LocalLock struct {
	mu     sync.Mutex
	leases map[string]lease
}

type lease struct {
	token   string
	expires time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{leases: make(map[string]lease)}
}

func (l *LocalLock) TryLock(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, ErrLockHeld
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	return &Lease{
		release: func(context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			if held, ok := l.leases[key]; ok && held.token == token {
				delete(l.leases, key)
			}
			return nil
		},
		extend: func(_ context.Context, ttl time.Duration) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			now := time.Now()
			held, ok := l.leases[key]
			if !ok || held.token != token || !now.Before(held.expires) {
				return ErrLockLost
			}
			l.leases[key] = lease{token: token, expires: now.Add(ttl)}
			return nil
		},
	}, nil
}
