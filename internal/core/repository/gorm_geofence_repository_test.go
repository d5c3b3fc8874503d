package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

func newGormMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	return gdb, mock
}

var geofenceColumns = []string{"id", "esn", "fence", "meta", "is_single_alert", "num_alerts_sent", "alert_type", "webhook_url", "created_by", "created_at", "updated_at", "deleted_at"}

func TestGormFindByESN(t *testing.T) {
	gdb, mock := newGormMock(t)
	ts := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "geofences" WHERE esn = $1 AND "geofences"."deleted_at" IS NULL ORDER BY id`)).
		WithArgs("esn-1").
		WillReturnRows(sqlmock.NewRows(geofenceColumns).
			AddRow(1, "esn-1", "POLYGON((0 0,0 1,1 1,1 0,0 0))", "", false, 2, "both", "http://hook", 0, ts, ts, nil))

	fences, err := NewGormGeofenceRepository(gdb).FindByESN(context.Background(), "esn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fences) != 1 {
		t.Fatalf("got %d fences", len(fences))
	}
	f := fences[0]
	if f.ID != 1 || f.AlertType != model.AlertBoth || f.NumAlertsSent != 2 || f.IsDeleted() || !f.CreatedAt.Equal(ts) {
		t.Errorf("fence = %+v", f)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGormDeleteIsSoft(t *testing.T) {
	gdb, mock := newGormMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "geofences" SET "deleted_at"=$1 WHERE "geofences"."id" = $2 AND "geofences"."deleted_at" IS NULL`)).
		WithArgs(sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "geofences" SET "deleted_at"`).
		WithArgs(sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewGormGeofenceRepository(gdb)
	if err := repo.Delete(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Delete(context.Background(), 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGormContains(t *testing.T) {
	gdb, mock := newGormMock(t)

	mock.ExpectQuery(`SELECT ST_Contains\(geom, ST_SetSRID\(ST_MakePoint\(\$1, \$2\), 4326\)\) FROM geofences WHERE id = \$3`).
		WithArgs(-97.1, 32.7, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"st_contains"}).AddRow(true))
	mock.ExpectQuery(`SELECT ST_Contains`).
		WithArgs(-97.1, 32.7, int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"st_contains"}))

	repo := NewGormGeofenceRepository(gdb)
	inside, err := repo.Contains(context.Background(), 1, 32.7, -97.1)
	if err != nil || !inside {
		t.Errorf("Contains() = %v, %v; want true, nil", inside, err)
	}
	if _, err := repo.Contains(context.Background(), 2, 32.7, -97.1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Contains(missing) error = %v, want ErrNotFound", err)
	}
}
