package service

import (
	"context"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

// AlertNotifier hands a freshly created alert to whatever delivers it.
// Notify must not block on delivery itself.
type AlertNotifier interface {
	Notify(ctx context.Context, alert model.FenceAlert) error
}

// NoopNotifier leaves alerts for the scheduled dispatch pass.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, model.FenceAlert) error { return nil }
