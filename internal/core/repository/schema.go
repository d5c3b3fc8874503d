package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

const extensionSQL = `CREATE EXTENSION IF NOT EXISTS postgis`

// geometry is derived from the WKT column gorm writes
const geofenceGeometrySQL = `ALTER TABLE geofences ADD COLUMN IF NOT EXISTS geom geometry(Polygon, 4326)
	GENERATED ALWAYS AS (ST_GeomFromText(fence, 4326)) STORED;
CREATE INDEX IF NOT EXISTS geofences_geom_idx ON geofences USING GIST (geom)`

const schemaSQL = `
CREATE TABLE IF NOT EXISTS canonical_messages (
	id                  BIGSERIAL PRIMARY KEY,
	external_message_id TEXT NOT NULL,
	esn                 TEXT NOT NULL,
	source              TEXT NOT NULL,
	value               TEXT NOT NULL,
	meta                TEXT NOT NULL DEFAULT '',
	occurred_at         TIMESTAMPTZ NOT NULL,
	dedup_key           TEXT NOT NULL UNIQUE,
	origin_type         TEXT NOT NULL DEFAULT '',
	origin_id           TEXT NOT NULL DEFAULT '',
	is_sent             BOOLEAN NOT NULL DEFAULT FALSE,
	num_tries           INTEGER NOT NULL DEFAULT 0,
	info                TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS location_fixes (
	id          BIGSERIAL PRIMARY KEY,
	esn         TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	point       geometry(Point, 4326) GENERATED ALWAYS AS (ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)) STORED,
	meta        TEXT NOT NULL DEFAULT '',
	dedup_key   TEXT NOT NULL UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS location_fixes_esn_idx ON location_fixes (esn, occurred_at);

CREATE TABLE IF NOT EXISTS info_records (
	id          BIGSERIAL PRIMARY KEY,
	esn         TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	source      TEXT NOT NULL,
	value       TEXT NOT NULL,
	meta        TEXT NOT NULL DEFAULT '',
	dedup_key   TEXT NOT NULL UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS info_records_esn_idx ON info_records (esn, source, occurred_at);

CREATE TABLE IF NOT EXISTS fence_states (
	id              BIGSERIAL PRIMARY KEY,
	esn             TEXT NOT NULL,
	geofence_id     BIGINT NOT NULL REFERENCES geofences (id),
	location_fix_id BIGINT NOT NULL REFERENCES location_fixes (id),
	occurred_at     TIMESTAMPTZ NOT NULL,
	state           TEXT NOT NULL CHECK (state IN ('inside', 'outside')),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS fence_states_latest_idx ON fence_states (esn, geofence_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS fence_alerts (
	id              BIGSERIAL PRIMARY KEY,
	geofence_id     BIGINT NOT NULL REFERENCES geofences (id),
	fence_state_id  BIGINT NOT NULL UNIQUE REFERENCES fence_states (id),
	webhook_url     TEXT NOT NULL,
	num_tries       INTEGER NOT NULL DEFAULT 0,
	sent_at         TIMESTAMPTZ,
	response_code   INTEGER NOT NULL DEFAULT 0,
	response        TEXT NOT NULL DEFAULT '',
	processed_stage SMALLINT NOT NULL DEFAULT 0,
	info            TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS fence_alerts_pending_idx ON fence_alerts (processed_stage, id);

CREATE TABLE IF NOT EXISTS watermarks (
	name       TEXT PRIMARY KEY,
	value      BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates the PostGIS extension, lets gorm own the geofences table,
// then applies the rest of the schema. Every step is idempotent.
func Migrate(ctx context.Context, db *sql.DB, gdb *gorm.DB) error {
	if _, err := db.ExecContext(ctx, extensionSQL); err != nil {
		return fmt.Errorf("create postgis extension: %w", err)
	}
	if err := gdb.WithContext(ctx).AutoMigrate(&geofenceRecord{}); err != nil {
		return fmt.Errorf("migrate geofences: %w", err)
	}
	if _, err := db.ExecContext(ctx, geofenceGeometrySQL); err != nil {
		return fmt.Errorf("geofence geometry: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
