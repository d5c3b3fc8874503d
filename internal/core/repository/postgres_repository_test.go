package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

var canonicalRowColumns = []string{"id", "external_message_id", "esn", "source", "value", "meta", "occurred_at", "dedup_key", "origin_type", "origin_id", "is_sent", "num_tries", "info"}

func sampleCanonical() *model.CanonicalMessage {
	return &model.CanonicalMessage{
		ExternalMessageID: "1291",
		ESN:               "867844001851958",
		Source:            model.SourceLocation,
		Value:             "32.7428,-97.147099",
		Meta:              `{"speed":0}`,
		OccurredAt:        time.Unix(1432598885, 0).UTC(),
		DedupKey:          "1291-abc",
	}
}

func TestCanonicalSave_Inserted(t *testing.T) {
	db, mock := newMock(t)
	msg := sampleCanonical()

	mock.ExpectQuery(`INSERT INTO canonical_messages .* ON CONFLICT \(dedup_key\) DO NOTHING RETURNING id`).
		WithArgs(msg.ExternalMessageID, msg.ESN, "location", msg.Value, msg.Meta, msg.OccurredAt, msg.DedupKey, "", "", false, 0, "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	if err := NewPostgresCanonicalRepository(db).Save(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 42 || !msg.Persisted {
		t.Errorf("msg = %+v", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCanonicalSave_ConflictLoadsExisting(t *testing.T) {
	db, mock := newMock(t)
	msg := sampleCanonical()
	msg.ESN = "other-esn"

	mock.ExpectQuery(`INSERT INTO canonical_messages`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT (.+) FROM canonical_messages WHERE dedup_key = (.+)`).
		WithArgs("1291-abc").
		WillReturnRows(sqlmock.NewRows(canonicalRowColumns).
			AddRow(7, "1291", "867844001851958", "location", "32.7428,-97.147099", `{"speed":0}`, time.Unix(1432598885, 0), "1291-abc", "gl200", "raw-1", true, 1, ""))

	if err := NewPostgresCanonicalRepository(db).Save(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != 7 || msg.ESN != "867844001851958" || !msg.IsSent || !msg.Persisted {
		t.Errorf("existing row not loaded: %+v", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCanonicalFindByDedupKey_NotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT (.+) FROM canonical_messages WHERE dedup_key = (.+)`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(canonicalRowColumns))

	got, err := NewPostgresCanonicalRepository(db).FindByDedupKey(context.Background(), "missing")
	if err != nil || got != nil {
		t.Errorf("FindByDedupKey() = %v, %v; want nil, nil", got, err)
	}
}

func TestCanonicalUpdateDelivery(t *testing.T) {
	db, mock := newMock(t)
	msg := sampleCanonical()
	msg.ID, msg.IsSent, msg.NumTries = 3, true, 2

	mock.ExpectExec(`UPDATE canonical_messages SET is_sent = (.+) WHERE id = (.+)`).
		WithArgs(int64(3), true, 2, "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewPostgresCanonicalRepository(db).UpdateDelivery(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateFix(t *testing.T) {
	db, mock := newMock(t)
	created := time.Unix(1700000000, 0)
	fix := &model.LocationFix{ESN: "esn", OccurredAt: time.Unix(1432598885, 0), Latitude: 32.7, Longitude: -97.1, Meta: "{}", DedupKey: "k"}

	mock.ExpectQuery(`INSERT INTO location_fixes (.+) ON CONFLICT \(dedup_key\) DO UPDATE`).
		WithArgs("esn", fix.OccurredAt, 32.7, -97.1, "{}", "k").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, created))

	if err := NewPostgresLocationRepository(db).CreateFix(context.Background(), fix); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fix.ID != 11 || !fix.CreatedAt.Equal(created) {
		t.Errorf("fix = %+v", fix)
	}
}

func TestFixesAfter(t *testing.T) {
	db, mock := newMock(t)
	ts := time.Unix(1432598885, 0)
	rows := sqlmock.NewRows([]string{"id", "esn", "occurred_at", "latitude", "longitude", "meta", "dedup_key", "created_at"}).
		AddRow(5, "a", ts, 1.5, 2.5, "{}", "k5", ts).
		AddRow(6, "b", ts, 3.5, 4.5, "{}", "k6", ts)

	mock.ExpectQuery(`SELECT (.+) FROM location_fixes WHERE id > (.+) ORDER BY id ASC LIMIT (.+)`).
		WithArgs(int64(4), 100).
		WillReturnRows(rows)

	fixes, err := NewPostgresLocationRepository(db).FixesAfter(context.Background(), 4, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fixes) != 2 || fixes[0].ID != 5 || fixes[1].Latitude != 3.5 {
		t.Errorf("fixes = %+v", fixes)
	}
}

func TestFenceStateLatest(t *testing.T) {
	columns := []string{"id", "esn", "geofence_id", "location_fix_id", "occurred_at", "state", "created_at"}

	t.Run("found", func(t *testing.T) {
		db, mock := newMock(t)
		ts := time.Unix(1432598885, 0)
		mock.ExpectQuery(`SELECT (.+) FROM fence_states WHERE esn = (.+) AND geofence_id = (.+) ORDER BY occurred_at DESC, id DESC LIMIT 1`).
			WithArgs("esn", int64(9)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "esn", 9, 5, ts, "outside", ts))

		got, err := NewPostgresFenceStateRepository(db).Latest(context.Background(), "esn", 9)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.State != model.StatusOutside || got.LocationFixID != 5 {
			t.Errorf("Latest() = %+v", got)
		}
	})

	t.Run("none", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`SELECT (.+) FROM fence_states`).
			WithArgs("esn", int64(9)).
			WillReturnRows(sqlmock.NewRows(columns))

		got, err := NewPostgresFenceStateRepository(db).Latest(context.Background(), "esn", 9)
		if err != nil || got != nil {
			t.Errorf("Latest() = %v, %v; want nil, nil", got, err)
		}
	})
}

func TestFenceStateCreate(t *testing.T) {
	db, mock := newMock(t)
	ts := time.Unix(1432598885, 0)
	state := &model.FenceState{ESN: "esn", GeofenceID: 9, LocationFixID: 5, OccurredAt: ts, State: model.StatusInside}

	mock.ExpectQuery(`INSERT INTO fence_states`).
		WithArgs("esn", int64(9), int64(5), ts, "inside").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(77, ts))

	if err := NewPostgresFenceStateRepository(db).Create(context.Background(), state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.ID != 77 {
		t.Errorf("ID = %d", state.ID)
	}
}

var deliveryColumns = []string{"id", "geofence_id", "fence_state_id", "webhook_url", "num_tries", "esn", "state", "occurred_at", "latitude", "longitude"}

func TestClaimPending(t *testing.T) {
	db, mock := newMock(t)
	ts := time.Unix(1432598885, 0)
	mock.ExpectQuery(`UPDATE fence_alerts a SET processed_stage = 1(.+)processed_stage = 1 AND updated_at < \$3(.+)FOR UPDATE SKIP LOCKED(.+)RETURNING`).
		WithArgs(10, 5, ts).
		WillReturnRows(sqlmock.NewRows(deliveryColumns).
			AddRow(1, 9, 77, "http://hook", 0, "esn", "inside", ts, 32.7, -97.1))

	got, err := NewPostgresFenceAlertRepository(db).ClaimPending(context.Background(), 10, 5, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d deliveries", len(got))
	}
	d := got[0]
	if d.Alert.ID != 1 || d.Alert.ProcessedStage != model.StageClaimed || d.State != model.StatusInside || d.Latitude != 32.7 {
		t.Errorf("delivery = %+v", d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClaim_NotPending(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`UPDATE fence_alerts a SET processed_stage = 1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(deliveryColumns))

	got, err := NewPostgresFenceAlertRepository(db).Claim(context.Background(), 3)
	if err != nil || got != nil {
		t.Errorf("Claim() = %v, %v; want nil, nil", got, err)
	}
}

func TestMarkDeliveredAndFailed(t *testing.T) {
	db, mock := newMock(t)
	sent := time.Unix(1700000000, 0)
	mock.ExpectExec(`UPDATE fence_alerts SET processed_stage = 2, sent_at = (.+)`).
		WithArgs(int64(1), sent, 200, "ok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE fence_alerts SET processed_stage = 0, (.+) num_tries = num_tries \+ 1`).
		WithArgs(int64(2), 500, "boom", "webhook returned 500").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresFenceAlertRepository(db)
	if err := repo.MarkDelivered(context.Background(), 1, 200, "ok", sent); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkFailed(context.Background(), 2, 500, "boom", "webhook returned 500"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWatermark(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT value FROM watermarks WHERE name = (.+)`).
		WithArgs("geofence_check").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec(`INSERT INTO watermarks (.+) WHERE watermarks.value < EXCLUDED.value`).
		WithArgs("geofence_check", int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresWatermarkRepository(db)
	got, err := repo.Read(context.Background(), "geofence_check")
	if err != nil || got != 0 {
		t.Errorf("Read() = %d, %v; want 0, nil", got, err)
	}
	if err := repo.Advance(context.Background(), "geofence_check", 12); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
