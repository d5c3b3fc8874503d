package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

var _ Transactor = (*PostgresTransactor)(nil)

// dbtx is the part of *sql.DB and *sql.Tx the lib/pq repositories use.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresTransactor opens the transaction through gorm and hands the same
// *sql.Tx to the lib/pq repositories, so both stacks commit together.
type PostgresTransactor struct {
	db *gorm.DB
}

func NewPostgresTransactor(db *gorm.DB) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

func (t *PostgresTransactor) WithTransaction(ctx context.Context, fn func(context.Context, TransitionRepositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sqlTx, ok := tx.Statement.ConnPool.(*sql.Tx)
		if !ok {
			return fmt.Errorf("transaction runs on %T, want *sql.Tx", tx.Statement.ConnPool)
		}
		return fn(ctx, TransitionRepositories{
			States:    &PostgresFenceStateRepository{db: sqlTx},
			Alerts:    &PostgresFenceAlertRepository{db: sqlTx},
			Geofences: NewGormGeofenceRepository(tx),
		})
	})
}
