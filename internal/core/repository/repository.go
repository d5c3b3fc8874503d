package repository

import (
	"context"
	"errors"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps failures of the backing store when writing delivered data.
	ErrPersistence = errors.New("persistence failure")
)

// Raw transmissions, stored before anything is decoded.
type RawMessageRepository interface {
	Create(ctx context.Context, msg *model.RawMessage) error
	Update(ctx context.Context, msg *model.RawMessage) error
	FindByID(ctx context.Context, id string) (*model.RawMessage, error)
	// FindRetryable returns ok transmissions with fewer than maxAttempts attempts
	// that are pending, or claimed and untouched since claimedBefore.
	FindRetryable(ctx context.Context, maxAttempts int, claimedBefore time.Time, limit int) ([]*model.RawMessage, error)
}

type CanonicalMessageRepository interface {
	// FindByDedupKey returns nil, nil when no message has the key.
	FindByDedupKey(ctx context.Context, key string) (*model.CanonicalMessage, error)
	// Save inserts msg, or loads the stored row when the dedup key already
	// exists. Either way msg ends up with the stored id and Persisted set.
	Save(ctx context.Context, msg *model.CanonicalMessage) error
	UpdateDelivery(ctx context.Context, msg *model.CanonicalMessage) error
}

type LocationRepository interface {
	// CreateFix and CreateInfo are idempotent on the dedup key.
	CreateFix(ctx context.Context, fix *model.LocationFix) error
	CreateInfo(ctx context.Context, rec *model.InfoRecord) error
	// FixesAfter returns fixes with an id above afterID in id order.
	FixesAfter(ctx context.Context, afterID int64, limit int) ([]model.LocationFix, error)
}

type GeofenceRepository interface {
	Create(ctx context.Context, fence *model.Geofence) error
	FindByID(ctx context.Context, id int64) (*model.Geofence, error)
	// FindByESN returns the fences scoped to a device, soft deleted ones excluded.
	FindByESN(ctx context.Context, esn string) ([]model.Geofence, error)
	Delete(ctx context.Context, id int64) error
	IncrementAlertsSent(ctx context.Context, id int64) error
	// Contains runs the point-in-polygon test in the store.
	Contains(ctx context.Context, geofenceID int64, lat, lng float64) (bool, error)
}

type FenceStateRepository interface {
	// Latest returns the state with the greatest occurred_at, or nil, nil.
	Latest(ctx context.Context, esn string, geofenceID int64) (*model.FenceState, error)
	Create(ctx context.Context, state *model.FenceState) error
	History(ctx context.Context, geofenceID int64, limit int) ([]model.FenceState, error)
}

type FenceAlertRepository interface {
	Create(ctx context.Context, alert *model.FenceAlert) error
	// ClaimPending moves up to limit alerts under maxAttempts tries to the
	// claimed stage. Claims untouched since claimedBefore are taken over.
	ClaimPending(ctx context.Context, limit, maxAttempts int, claimedBefore time.Time) ([]model.AlertDelivery, error)
	// Claim claims one alert by id. It returns nil, nil when the alert is not pending.
	Claim(ctx context.Context, id int64) (*model.AlertDelivery, error)
	MarkDelivered(ctx context.Context, id int64, responseCode int, response string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, responseCode int, response, info string) error
}

// TransitionRepositories are the stores one fence transition writes to.
type TransitionRepositories struct {
	States    FenceStateRepository
	Alerts    FenceAlertRepository
	Geofences GeofenceRepository
}

// Transactor runs fn so that every write made through the repositories it is
// given commits or rolls back as one.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context, TransitionRepositories) error) error
}

// WatermarkRepository stores named cursors. Advance never moves a cursor backwards.
type WatermarkRepository interface {
	Read(ctx context.Context, name string) (int64, error)
	Advance(ctx context.Context, name string, value int64) error
}
