package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/SnakeO/gps-catcher/internal/cache"
	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
)

const (
	// WatermarkGeofenceCheck names the cursor of fully checked location fixes.
	WatermarkGeofenceCheck = "geofence_check"
	geofenceLockKey        = "lock:" + WatermarkGeofenceCheck
	pairStripes            = 64
)

// GeofenceEvaluationError is one fence failing for one fix. It never aborts a run.
type GeofenceEvaluationError struct {
	ESN        string
	GeofenceID int64
	FixID      int64
	Err        error
}

func (e *GeofenceEvaluationError) Error() string {
	return fmt.Sprintf("evaluate geofence %d for %s (fix %d): %v", e.GeofenceID, e.ESN, e.FixID, e.Err)
}

func (e *GeofenceEvaluationError) Unwrap() error {
	return e.Err
}

type CheckerConfig struct {
	BatchSize   int
	Concurrency int
	LockTTL     time.Duration
}

type CheckResult struct {
	Processed int `json:"processed"`
	Alerts    int `json:"alerts"`
	Failures  int `json:"failures"`
}

// GeofenceChecker walks new location fixes and tracks every device against its geofences.
type GeofenceChecker struct {
	locations  repository.LocationRepository
	geofences  repository.GeofenceRepository
	states     repository.FenceStateRepository
	tx         repository.Transactor
	watermarks repository.WatermarkRepository
	lock       cache.Lock
	notifier   AlertNotifier
	logger     logrus.FieldLogger
	cfg        CheckerConfig

	pairs [pairStripes]sync.Mutex
}

func NewGeofenceChecker(
	locations repository.LocationRepository,
	geofences repository.GeofenceRepository,
	states repository.FenceStateRepository,
	tx repository.Transactor,
	watermarks repository.WatermarkRepository,
	lock cache.Lock,
	notifier AlertNotifier,
	logger logrus.FieldLogger,
	cfg CheckerConfig,
) *GeofenceChecker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &GeofenceChecker{
		locations:  locations,
		geofences:  geofences,
		states:     states,
		tx:         tx,
		watermarks: watermarks,
		lock:       lock,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run checks every fix past the watermark. Only one run holds the lock at a
// time; a concurrent call returns cache.ErrLockHeld. The lease is renewed while
// the run lasts, and a run that loses it stops with cache.ErrLockLost.
func (c *GeofenceChecker) Run(ctx context.Context) (CheckResult, error) {
	var result CheckResult

	lease, err := c.lock.TryLock(ctx, geofenceLockKey, c.cfg.LockTTL)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			c.logger.WithError(err).Warn("Failed to release geofence check lock")
		}
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go c.keepLease(ctx, lease, cancel)

	result, err = c.run(ctx)
	if cause := context.Cause(ctx); errors.Is(cause, cache.ErrLockLost) {
		return result, cause
	}
	return result, err
}

// keepLease extends the lease every third of its ttl until ctx is done.
func (c *GeofenceChecker) keepLease(ctx context.Context, lease *cache.Lease, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(c.cfg.LockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lease.Extend(ctx, c.cfg.LockTTL)
			switch {
			case errors.Is(err, cache.ErrLockLost):
				c.logger.Error("Geofence check lock lost, stopping the run")
				cancel(err)
				return
			case err != nil && ctx.Err() == nil:
				c.logger.WithError(err).Warn("Failed to extend geofence check lock")
			}
		}
	}
}

func (c *GeofenceChecker) run(ctx context.Context) (CheckResult, error) {
	var result CheckResult

	cursor, err := c.watermarks.Read(ctx, WatermarkGeofenceCheck)
	if err != nil {
		return result, fmt.Errorf("read watermark: %w", err)
	}

	for {
		fixes, err := c.locations.FixesAfter(ctx, cursor, c.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("load fixes after %d: %w", cursor, err)
		}
		if len(fixes) == 0 {
			break
		}

		next, err := c.runBatch(ctx, cursor, fixes, &result)
		if err != nil {
			return result, err
		}
		if next == cursor {
			break
		}
		cursor = next

		if len(fixes) < c.cfg.BatchSize {
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"processed": result.Processed,
		"alerts":    result.Alerts,
		"failures":  result.Failures,
		"watermark": cursor,
	}).Info("Geofence check finished")
	return result, nil
}

// runBatch evaluates fixes (given in id order) by occurrence time. The
// watermark only moves over the id-ordered prefix that is fully evaluated,
// so a crash mid-batch never skips a fix.
func (c *GeofenceChecker) runBatch(ctx context.Context, cursor int64, fixes []model.LocationFix, result *CheckResult) (int64, error) {
	ordered := make([]model.LocationFix, len(fixes))
	copy(ordered, fixes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
	})

	done := make(map[int64]bool, len(fixes))
	prefix := 0
	for _, fix := range ordered {
		if err := ctx.Err(); err != nil {
			return cursor, err
		}

		alerts, failures, err := c.CheckFix(ctx, fix)
		if err != nil {
			return cursor, err
		}
		result.Processed++
		result.Alerts += alerts
		result.Failures += failures
		done[fix.ID] = true

		advanced := cursor
		for prefix < len(fixes) && done[fixes[prefix].ID] {
			advanced = fixes[prefix].ID
			prefix++
		}
		if advanced != cursor {
			if err := c.watermarks.Advance(ctx, WatermarkGeofenceCheck, advanced); err != nil {
				return cursor, fmt.Errorf("advance watermark to %d: %w", advanced, err)
			}
			cursor = advanced
		}
	}
	return cursor, nil
}

// CheckFix evaluates one fix against every geofence of its device. It returns
// the number of alerts raised and fences that failed. Fence failures are
// logged, not returned.
func (c *GeofenceChecker) CheckFix(ctx context.Context, fix model.LocationFix) (int, int, error) {
	fences, err := c.geofences.FindByESN(ctx, fix.ESN)
	if err != nil {
		return 0, 0, fmt.Errorf("geofences for %s: %w", fix.ESN, err)
	}

	var alerts, failures atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, fence := range fences {
		g.Go(func() error {
			alerted, err := c.evaluate(gctx, fence, fix)
			if err != nil {
				failures.Add(1)
				evalErr := &GeofenceEvaluationError{ESN: fix.ESN, GeofenceID: fence.ID, FixID: fix.ID, Err: err}
				c.logger.WithFields(logrus.Fields{
					"esn":         fix.ESN,
					"geofence_id": fence.ID,
					"fix_id":      fix.ID,
				}).WithError(evalErr).Error("Error checking geofence")
				return nil
			}
			if alerted {
				alerts.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return int(alerts.Load()), int(failures.Load()), nil
}

func (c *GeofenceChecker) evaluate(ctx context.Context, fence model.Geofence, fix model.LocationFix) (bool, error) {
	if fence.IsDeleted() || fence.CreatedAt.After(fix.OccurredAt) {
		return false, nil
	}

	unlock := c.lockPair(fix.ESN, fence.ID)
	defer unlock()

	last, err := c.states.Latest(ctx, fix.ESN, fence.ID)
	if err != nil {
		return false, fmt.Errorf("latest state: %w", err)
	}
	if last != nil && last.OccurredAt.After(fix.OccurredAt) {
		return false, nil
	}

	inside, err := c.geofences.Contains(ctx, fence.ID, fix.Latitude, fix.Longitude)
	if err != nil {
		return false, fmt.Errorf("containment: %w", err)
	}

	previous := model.StatusUnknown
	if last != nil {
		previous = last.State
	}
	current := model.StatusFor(inside)
	if current == previous {
		return false, nil
	}

	state := &model.FenceState{
		ESN:           fix.ESN,
		GeofenceID:    fence.ID,
		LocationFixID: fix.ID,
		OccurredAt:    fix.OccurredAt,
		State:         current,
	}
	transition := model.DetectTransition(previous, current)

	// The state, the alert and the fence's counter are written together: a
	// state saved without its alert would hide the transition for good.
	var alert *model.FenceAlert
	err = c.tx.WithTransaction(ctx, func(ctx context.Context, repos repository.TransitionRepositories) error {
		if err := repos.States.Create(ctx, state); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		if !fence.AlertType.Permits(transition) {
			return nil
		}

		pending := &model.FenceAlert{
			GeofenceID:     fence.ID,
			FenceStateID:   state.ID,
			WebhookURL:     fence.WebhookURL,
			ProcessedStage: model.StagePending,
		}
		if err := repos.Alerts.Create(ctx, pending); err != nil {
			return fmt.Errorf("create alert: %w", err)
		}
		if err := repos.Geofences.IncrementAlertsSent(ctx, fence.ID); err != nil {
			return fmt.Errorf("count alert: %w", err)
		}
		alert = pending
		return nil
	})
	if err != nil {
		return false, err
	}
	if alert == nil {
		return false, nil
	}

	c.logger.WithFields(logrus.Fields{
		"esn":              fix.ESN,
		"geofence_id":      fence.ID,
		"alert_id":         alert.ID,
		"last_state":       previous,
		"last_occurred_at": last.OccurredAt,
	}).Infof("ALERT - %s %s FENCE %d @ %s", fix.ESN, transition, fence.ID, fix.OccurredAt.UTC().Format(time.RFC3339))

	if err := c.notifier.Notify(ctx, *alert); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.WithField("alert_id", alert.ID).WithError(err).Warn("Alert hand-off failed, leaving it for the dispatch pass")
	}
	return true, nil
}

// lockPair serializes state writes for one (esn, geofence) pair.
func (c *GeofenceChecker) lockPair(esn string, geofenceID int64) func() {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", esn, geofenceID)
	mu := &c.pairs[h.Sum32()%pairStripes]
	mu.Lock()
	return mu.Unlock
}
