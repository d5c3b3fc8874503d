package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SnakeO/gps-catcher/internal/cache"
	"github.com/SnakeO/gps-catcher/internal/core/model"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
)

const testESN = "867844001851958"

// box is a containment test over a lat/lng rectangle.
type box struct{ minLat, maxLat, minLng, maxLng float64 }

func (b box) contains(lat, lng float64) bool {
	return lat >= b.minLat && lat <= b.maxLat && lng >= b.minLng && lng <= b.maxLng
}

var downtown = box{32.7, 32.8, -97.2, -97.1}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []model.FenceAlert
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, alert model.FenceAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

type alertLister interface {
	Alerts() []model.FenceAlert
}

type checkerFixture struct {
	locations  repository.LocationRepository
	geofences  repository.GeofenceRepository
	states     repository.FenceStateRepository
	alerts     repository.FenceAlertRepository
	watermarks repository.WatermarkRepository
	lock       *cache.LocalLock
	notifier   *recordingNotifier
	checker    *GeofenceChecker
}

func newCheckerFixture(contains repository.ContainsFunc) *checkerFixture {
	if contains == nil {
		contains = func(_ model.Geofence, lat, lng float64) (bool, error) {
			return downtown.contains(lat, lng), nil
		}
	}
	f := &checkerFixture{
		locations:  repository.NewInMemoryLocationRepository(),
		geofences:  repository.NewInMemoryGeofenceRepository(contains),
		states:     repository.NewInMemoryFenceStateRepository(),
		watermarks: repository.NewInMemoryWatermarkRepository(),
		lock:       cache.NewLocalLock(),
		notifier:   &recordingNotifier{},
	}
	f.alerts = repository.NewInMemoryFenceAlertRepository(f.states, f.locations)
	f.checker = f.newChecker(f.alerts)
	return f
}

// newChecker builds a checker whose transitions write alerts through alerts.
func (f *checkerFixture) newChecker(alerts repository.FenceAlertRepository) *GeofenceChecker {
	tx := repository.NewInMemoryTransactor(repository.TransitionRepositories{
		States:    f.states,
		Alerts:    alerts,
		Geofences: f.geofences,
	})
	return NewGeofenceChecker(f.locations, f.geofences, f.states, tx, f.watermarks, f.lock, f.notifier, testLogger(), CheckerConfig{BatchSize: 2, Concurrency: 2})
}

func (f *checkerFixture) fence(t *testing.T, alertType model.AlertType, createdAt time.Time) model.Geofence {
	t.Helper()
	g := &model.Geofence{
		ESN:        testESN,
		Fence:      "POLYGON((-97.2 32.7,-97.1 32.7,-97.1 32.8,-97.2 32.8,-97.2 32.7))",
		AlertType:  alertType,
		WebhookURL: "https://example.com/hook",
		CreatedAt:  createdAt,
	}
	if err := f.geofences.Create(context.Background(), g); err != nil {
		t.Fatalf("create geofence: %v", err)
	}
	return *g
}

func (f *checkerFixture) fix(t *testing.T, lat, lng float64, at time.Time) model.LocationFix {
	t.Helper()
	fix := &model.LocationFix{
		ESN:        testESN,
		OccurredAt: at,
		Latitude:   lat,
		Longitude:  lng,
		DedupKey:   fmt.Sprintf("%s-%d-%f-%f", testESN, at.Unix(), lat, lng),
	}
	if err := f.locations.CreateFix(context.Background(), fix); err != nil {
		t.Fatalf("create fix: %v", err)
	}
	return *fix
}

func (f *checkerFixture) latest(t *testing.T, geofenceID int64) *model.FenceState {
	t.Helper()
	s, err := f.states.Latest(context.Background(), testESN, geofenceID)
	if err != nil {
		t.Fatalf("Latest(): %v", err)
	}
	return s
}

var base = time.Date(2015, 5, 26, 0, 0, 0, 0, time.UTC)

func TestCheckerEntersFence(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	fence := f.fence(t, model.AlertBoth, base)
	outsideFix := f.fix(t, 33.5, -97.15, base.Add(time.Minute))
	if err := f.states.Create(ctx, &model.FenceState{
		ESN: testESN, GeofenceID: fence.ID, LocationFixID: outsideFix.ID,
		OccurredAt: outsideFix.OccurredAt, State: model.StatusOutside,
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	if err := f.watermarks.Advance(ctx, WatermarkGeofenceCheck, outsideFix.ID); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	insideFix := f.fix(t, 32.75, -97.15, base.Add(2*time.Minute))

	result, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Processed != 1 || result.Alerts != 1 || result.Failures != 0 {
		t.Errorf("Run() = %+v", result)
	}

	state := f.latest(t, fence.ID)
	if state == nil || state.State != model.StatusInside || state.LocationFixID != insideFix.ID {
		t.Fatalf("latest state = %+v", state)
	}

	alerts := f.alerts.(alertLister).Alerts()
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.FenceStateID != state.ID || a.ProcessedStage != model.StagePending || a.WebhookURL != fence.WebhookURL {
		t.Errorf("alert = %+v", a)
	}

	stored, _ := f.geofences.FindByID(ctx, fence.ID)
	if stored.NumAlertsSent != 1 {
		t.Errorf("NumAlertsSent = %d, want 1", stored.NumAlertsSent)
	}
	if len(f.notifier.alerts) != 1 || f.notifier.alerts[0].ID != a.ID {
		t.Errorf("notified = %+v", f.notifier.alerts)
	}
	if w, _ := f.watermarks.Read(ctx, WatermarkGeofenceCheck); w != insideFix.ID {
		t.Errorf("watermark = %d, want %d", w, insideFix.ID)
	}
}

func TestCheckerFirstObservationOnlyRecordsState(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	fence := f.fence(t, model.AlertBoth, base)
	f.fix(t, 32.75, -97.15, base.Add(time.Minute))

	result, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Alerts != 0 {
		t.Errorf("first observation raised %d alerts", result.Alerts)
	}
	if s := f.latest(t, fence.ID); s == nil || s.State != model.StatusInside {
		t.Errorf("latest state = %+v", s)
	}
}

func TestCheckerTransitions(t *testing.T) {
	inside := [2]float64{32.75, -97.15}
	outside := [2]float64{40, -80}

	tests := []struct {
		name       string
		alertType  model.AlertType
		path       [][2]float64
		wantStates int
		wantAlerts int
	}{
		{"enter on both", model.AlertBoth, [][2]float64{outside, inside}, 2, 1},
		{"exit on both", model.AlertBoth, [][2]float64{inside, outside}, 2, 1},
		{"enter on enter", model.AlertEnter, [][2]float64{outside, inside}, 2, 1},
		{"exit on enter", model.AlertEnter, [][2]float64{inside, outside}, 2, 0},
		{"exit on exit", model.AlertExit, [][2]float64{inside, outside}, 2, 1},
		{"enter on exit", model.AlertExit, [][2]float64{outside, inside}, 2, 0},
		{"stay inside", model.AlertBoth, [][2]float64{inside, inside, inside}, 1, 0},
		{"round trip", model.AlertBoth, [][2]float64{outside, inside, outside, inside}, 4, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCheckerFixture(nil)
			ctx := context.Background()
			fence := f.fence(t, tt.alertType, base)
			for i, p := range tt.path {
				f.fix(t, p[0], p[1], base.Add(time.Duration(i+1)*time.Minute))
			}

			result, err := f.checker.Run(ctx)
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if result.Processed != len(tt.path) || result.Alerts != tt.wantAlerts {
				t.Errorf("Run() = %+v, want %d processed %d alerts", result, len(tt.path), tt.wantAlerts)
			}
			history, _ := f.states.History(ctx, fence.ID, 0)
			if len(history) != tt.wantStates {
				t.Errorf("got %d states, want %d", len(history), tt.wantStates)
			}
			stored, _ := f.geofences.FindByID(ctx, fence.ID)
			if stored.NumAlertsSent != tt.wantAlerts {
				t.Errorf("NumAlertsSent = %d, want %d", stored.NumAlertsSent, tt.wantAlerts)
			}
		})
	}
}

func TestCheckerSkipsFences(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	deleted := f.fence(t, model.AlertBoth, base)
	if err := f.geofences.Delete(ctx, deleted.ID); err != nil {
		t.Fatalf("Delete(): %v", err)
	}
	later := f.fence(t, model.AlertBoth, base.Add(time.Hour))
	f.fix(t, 32.75, -97.15, base.Add(time.Minute))

	if _, err := f.checker.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if s := f.latest(t, deleted.ID); s != nil {
		t.Errorf("deleted fence got state %+v", s)
	}
	if s := f.latest(t, later.ID); s != nil {
		t.Errorf("fence created after the fix got state %+v", s)
	}
}

func TestCheckerSkipsSupersededFix(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	fence := f.fence(t, model.AlertBoth, base)
	if err := f.states.Create(ctx, &model.FenceState{
		ESN: testESN, GeofenceID: fence.ID, OccurredAt: base.Add(time.Hour), State: model.StatusOutside,
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	f.fix(t, 32.75, -97.15, base.Add(time.Minute))

	result, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Processed != 1 || result.Alerts != 0 {
		t.Errorf("Run() = %+v", result)
	}
	if s := f.latest(t, fence.ID); s.State != model.StatusOutside {
		t.Errorf("superseded fix changed the state to %s", s.State)
	}
}

func TestCheckerOrdersByOccurrence(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	f.fence(t, model.AlertEnter, base)
	// Stored first but observed last.
	f.fix(t, 32.75, -97.15, base.Add(3*time.Minute))
	last := f.fix(t, 40, -80, base.Add(time.Minute))

	result, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Alerts != 1 {
		t.Errorf("alerts = %d, want 1 for the outside to inside move", result.Alerts)
	}
	if w, _ := f.watermarks.Read(ctx, WatermarkGeofenceCheck); w != last.ID {
		t.Errorf("watermark = %d, want %d", w, last.ID)
	}
}

func TestCheckerIsolatesFenceFailures(t *testing.T) {
	boom := errors.New("invalid geometry")
	var broken int64
	f := newCheckerFixture(func(fence model.Geofence, lat, lng float64) (bool, error) {
		if fence.ID == broken {
			return false, boom
		}
		return downtown.contains(lat, lng), nil
	})
	ctx := context.Background()

	broken = f.fence(t, model.AlertBoth, base).ID
	healthy := f.fence(t, model.AlertBoth, base)
	fixes := []model.LocationFix{
		f.fix(t, 40, -80, base.Add(time.Minute)),
		f.fix(t, 32.75, -97.15, base.Add(2*time.Minute)),
		f.fix(t, 32.76, -97.15, base.Add(3*time.Minute)),
	}

	result, err := f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Processed != 3 || result.Failures != 3 || result.Alerts != 1 {
		t.Errorf("Run() = %+v", result)
	}
	if s := f.latest(t, healthy.ID); s == nil || s.State != model.StatusInside {
		t.Errorf("healthy fence state = %+v", s)
	}
	if w, _ := f.watermarks.Read(ctx, WatermarkGeofenceCheck); w != fixes[2].ID {
		t.Errorf("watermark = %d, want %d", w, fixes[2].ID)
	}
}

func TestCheckerNotifierFailureKeepsAlert(t *testing.T) {
	f := newCheckerFixture(nil)
	f.notifier.err = errors.New("broker down")
	ctx := context.Background()

	f.fence(t, model.AlertBoth, base)
	f.fix(t, 40, -80, base.Add(time.Minute))
	f.fix(t, 32.75, -97.15, base.Add(2*time.Minute))

	result, err := f.checker.Run(ctx)
	if err != nil || result.Alerts != 1 {
		t.Fatalf("Run() = %+v, %v", result, err)
	}
	if alerts := f.alerts.(alertLister).Alerts(); len(alerts) != 1 || alerts[0].ProcessedStage != model.StagePending {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestCheckerSingleWriter(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	lease, err := f.lock.TryLock(ctx, "lock:"+WatermarkGeofenceCheck, time.Minute)
	if err != nil {
		t.Fatalf("TryLock(): %v", err)
	}
	if _, err := f.checker.Run(ctx); !errors.Is(err, cache.ErrLockHeld) {
		t.Errorf("Run() error = %v, want ErrLockHeld", err)
	}

	_ = lease.Release(ctx)
	if _, err := f.checker.Run(ctx); err != nil {
		t.Errorf("Run() after unlock: %v", err)
	}
}

type failingAlertCreate struct {
	repository.FenceAlertRepository
	createFunc func(ctx context.Context, alert *model.FenceAlert) error
}

func (r *failingAlertCreate) Create(ctx context.Context, alert *model.FenceAlert) error {
	return r.createFunc(ctx, alert)
}

func TestCheckerTransitionIsAtomic(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	fence := f.fence(t, model.AlertBoth, base)
	f.fix(t, 33.5, -97.15, base.Add(time.Minute))
	if _, err := f.checker.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	broken := f.newChecker(&failingAlertCreate{
		FenceAlertRepository: f.alerts,
		createFunc: func(context.Context, *model.FenceAlert) error {
			return errors.New("connection reset")
		},
	})
	f.fix(t, 32.75, -97.15, base.Add(2*time.Minute))
	result, err := broken.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Failures != 1 || result.Alerts != 0 {
		t.Errorf("Run() = %+v, want one failure and no alerts", result)
	}
	if s := f.latest(t, fence.ID); s == nil || s.State != model.StatusOutside {
		t.Fatalf("latest state = %+v, want the outside state kept", s)
	}
	if got := f.alerts.(alertLister).Alerts(); len(got) != 0 {
		t.Errorf("alerts = %+v, want none", got)
	}
	stored, err := f.geofences.FindByID(ctx, fence.ID)
	if err != nil {
		t.Fatalf("FindByID(): %v", err)
	}
	if stored.NumAlertsSent != 0 {
		t.Errorf("NumAlertsSent = %d, want 0", stored.NumAlertsSent)
	}

	// The transition is still pending, so the next inside fix raises it.
	f.fix(t, 32.76, -97.15, base.Add(3*time.Minute))
	result, err = f.checker.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Alerts != 1 {
		t.Errorf("Run() = %+v, want one alert", result)
	}
	if got := f.alerts.(alertLister).Alerts(); len(got) != 1 {
		t.Errorf("alerts = %d, want 1", len(got))
	}
	stored, _ = f.geofences.FindByID(ctx, fence.ID)
	if stored.NumAlertsSent != 1 {
		t.Errorf("NumAlertsSent = %d, want 1", stored.NumAlertsSent)
	}
}

func TestCheckerStopsWhenLeaseIsLost(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()
	f.fence(t, model.AlertBoth, base)
	f.fix(t, 33.5, -97.15, base.Add(time.Minute))

	f.checker.lock = lockFunc(func(ctx context.Context, key string, ttl time.Duration) (*cache.Lease, error) {
		lease, err := f.lock.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		// Another holder takes the key as soon as the lease is handed out.
		_ = lease.Release(ctx)
		if _, err := f.lock.TryLock(ctx, key, time.Minute); err != nil {
			return nil, err
		}
		return lease, nil
	})
	f.checker.cfg.LockTTL = 30 * time.Millisecond
	f.checker.locations = &slowLocations{LocationRepository: f.locations, delay: time.Second}

	if _, err := f.checker.Run(ctx); !errors.Is(err, cache.ErrLockLost) {
		t.Errorf("Run() error = %v, want ErrLockLost", err)
	}
}

type lockFunc func(ctx context.Context, key string, ttl time.Duration) (*cache.Lease, error)

func (f lockFunc) TryLock(ctx context.Context, key string, ttl time.Duration) (*cache.Lease, error) {
	return f(ctx, key, ttl)
}

type slowLocations struct {
	repository.LocationRepository
	delay time.Duration
}

func (s *slowLocations) FixesAfter(ctx context.Context, after int64, limit int) ([]model.LocationFix, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.LocationRepository.FixesAfter(ctx, after, limit)
}

func TestCheckerResumesFromWatermark(t *testing.T) {
	f := newCheckerFixture(nil)
	ctx := context.Background()

	f.fence(t, model.AlertBoth, base)
	f.fix(t, 40, -80, base.Add(time.Minute))

	if r, _ := f.checker.Run(ctx); r.Processed != 1 {
		t.Fatalf("first Run() processed %d", r.Processed)
	}
	if r, _ := f.checker.Run(ctx); r.Processed != 0 {
		t.Errorf("second Run() reprocessed %d fixes", r.Processed)
	}

	f.fix(t, 32.75, -97.15, base.Add(2*time.Minute))
	r, err := f.checker.Run(ctx)
	if err != nil || r.Processed != 1 || r.Alerts != 1 {
		t.Errorf("third Run() = %+v, %v", r, err)
	}
}
