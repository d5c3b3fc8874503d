package repository

import (
	"context"
	"database/sql"
	"errors"
)

var _ WatermarkRepository = (*PostgresWatermarkRepository)(nil)

type PostgresWatermarkRepository struct {
	db *sql.DB
}

func NewPostgresWatermarkRepository(db *sql.DB) *PostgresWatermarkRepository {
	return &PostgresWatermarkRepository{db: db}
}

// Read returns 0 for a cursor that was never advanced.
func (r *PostgresWatermarkRepository) Read(ctx context.Context, name string) (int64, error) {
	var value int64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM watermarks WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

func (r *PostgresWatermarkRepository) Advance(ctx context.Context, name string, value int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watermarks (name, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		WHERE watermarks.value < EXCLUDED.value`,
		name, value,
	)
	return err
}
