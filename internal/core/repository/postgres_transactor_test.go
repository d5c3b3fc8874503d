package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

func transition(ctx context.Context, repos TransitionRepositories, ts time.Time) error {
	state := &model.FenceState{ESN: "esn", GeofenceID: 9, LocationFixID: 5, OccurredAt: ts, State: model.StatusInside}
	if err := repos.States.Create(ctx, state); err != nil {
		return err
	}
	alert := &model.FenceAlert{GeofenceID: 9, FenceStateID: state.ID, WebhookURL: "https://example.com/hook"}
	if err := repos.Alerts.Create(ctx, alert); err != nil {
		return err
	}
	return repos.Geofences.IncrementAlertsSent(ctx, 9)
}

func TestPostgresTransactorCommits(t *testing.T) {
	gdb, mock := newGormMock(t)
	ts := time.Unix(1432598885, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO fence_states`).
		WithArgs("esn", int64(9), int64(5), ts, "inside").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(77, ts))
	mock.ExpectQuery(`INSERT INTO fence_alerts`).
		WithArgs(int64(9), int64(77), "https://example.com/hook", 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(3, ts, ts))
	mock.ExpectExec(`UPDATE "geofences" SET "num_alerts_sent"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewPostgresTransactor(gdb).WithTransaction(context.Background(), func(ctx context.Context, repos TransitionRepositories) error {
		return transition(ctx, repos, ts)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresTransactorRollsBack(t *testing.T) {
	gdb, mock := newGormMock(t)
	ts := time.Unix(1432598885, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO fence_states`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(77, ts))
	mock.ExpectQuery(`INSERT INTO fence_alerts`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := NewPostgresTransactor(gdb).WithTransaction(context.Background(), func(ctx context.Context, repos TransitionRepositories) error {
		return transition(ctx, repos, ts)
	})
	if err == nil {
		t.Fatal("expected the alert insert error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInMemoryTransactorUndoesWrites(t *testing.T) {
	ctx := context.Background()
	ts := time.Unix(1432598885, 0)

	states := NewInMemoryFenceStateRepository()
	locations := NewInMemoryLocationRepository()
	alerts := NewInMemoryFenceAlertRepository(states, locations)
	fences := NewInMemoryGeofenceRepository(nil)
	fence := &model.Geofence{ESN: "esn", AlertType: model.AlertBoth}
	if err := fences.Create(ctx, fence); err != nil {
		t.Fatal(err)
	}

	tx := NewInMemoryTransactor(TransitionRepositories{States: states, Alerts: alerts, Geofences: fences})
	boom := errors.New("boom")
	err := tx.WithTransaction(ctx, func(ctx context.Context, repos TransitionRepositories) error {
		state := &model.FenceState{ESN: "esn", GeofenceID: fence.ID, OccurredAt: ts, State: model.StatusInside}
		if err := repos.States.Create(ctx, state); err != nil {
			return err
		}
		if err := repos.Alerts.Create(ctx, &model.FenceAlert{GeofenceID: fence.ID, FenceStateID: state.ID}); err != nil {
			return err
		}
		if err := repos.Geofences.IncrementAlertsSent(ctx, fence.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTransaction() error = %v, want boom", err)
	}

	if s, _ := states.Latest(ctx, "esn", fence.ID); s != nil {
		t.Errorf("Latest() = %+v, want nil", s)
	}
	if got := alerts.(interface{ Alerts() []model.FenceAlert }).Alerts(); len(got) != 0 {
		t.Errorf("alerts = %+v, want none", got)
	}
	stored, _ := fences.FindByID(ctx, fence.ID)
	if stored.NumAlertsSent != 0 {
		t.Errorf("NumAlertsSent = %d, want 0", stored.NumAlertsSent)
	}

	err = tx.WithTransaction(ctx, func(ctx context.Context, repos TransitionRepositories) error {
		return repos.States.Create(ctx, &model.FenceState{ESN: "esn", GeofenceID: fence.ID, OccurredAt: ts, State: model.StatusOutside})
	})
	if err != nil {
		t.Fatalf("WithTransaction() error: %v", err)
	}
	if s, _ := states.Latest(ctx, "esn", fence.ID); s == nil || s.State != model.StatusOutside {
		t.Errorf("Latest() = %+v, want the committed outside state", s)
	}
}
