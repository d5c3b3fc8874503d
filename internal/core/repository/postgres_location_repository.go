package repository

import (
	"context"
	"database/sql"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

var _ LocationRepository = (*PostgresLocationRepository)(nil)

type PostgresLocationRepository struct {
	db *sql.DB
}

func NewPostgresLocationRepository(db *sql.DB) *PostgresLocationRepository {
	return &PostgresLocationRepository{db: db}
}

// The no-op update on conflict makes RETURNING yield the existing row's id.
func (r *PostgresLocationRepository) CreateFix(ctx context.Context, fix *model.LocationFix) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO location_fixes (esn, occurred_at, latitude, longitude, meta, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedup_key) DO UPDATE SET dedup_key = EXCLUDED.dedup_key
		RETURNING id, created_at`,
		fix.ESN, fix.OccurredAt, fix.Latitude, fix.Longitude, fix.Meta, fix.DedupKey,
	).Scan(&fix.ID, &fix.CreatedAt)
}

func (r *PostgresLocationRepository) CreateInfo(ctx context.Context, rec *model.InfoRecord) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO info_records (esn, occurred_at, source, value, meta, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedup_key) DO UPDATE SET dedup_key = EXCLUDED.dedup_key
		RETURNING id, created_at`,
		rec.ESN, rec.OccurredAt, string(rec.Source), rec.Value, rec.Meta, rec.DedupKey,
	).Scan(&rec.ID, &rec.CreatedAt)
}

func (r *PostgresLocationRepository) FixesAfter(ctx context.Context, afterID int64, limit int) ([]model.LocationFix, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, esn, occurred_at, latitude, longitude, meta, dedup_key, created_at FROM location_fixes WHERE id > $1 ORDER BY id ASC LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var fixes []model.LocationFix
	for rows.Next() {
		var f model.LocationFix
		if err := rows.Scan(&f.ID, &f.ESN, &f.OccurredAt, &f.Latitude, &f.Longitude, &f.Meta, &f.DedupKey, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.OccurredAt = f.OccurredAt.UTC()
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}
