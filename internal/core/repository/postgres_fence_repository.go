package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

var (
	_ FenceStateRepository = (*PostgresFenceStateRepository)(nil)
	_ FenceAlertRepository = (*PostgresFenceAlertRepository)(nil)
)

type PostgresFenceStateRepository struct {
	db dbtx
}

func NewPostgresFenceStateRepository(db *sql.DB) *PostgresFenceStateRepository {
	return &PostgresFenceStateRepository{db: db}
}

func (r *PostgresFenceStateRepository) Latest(ctx context.Context, esn string, geofenceID int64) (*model.FenceState, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, esn, geofence_id, location_fix_id, occurred_at, state, created_at FROM fence_states WHERE esn = $1 AND geofence_id = $2 ORDER BY occurred_at DESC, id DESC LIMIT 1`,
		esn, geofenceID,
	)
	var s model.FenceState
	var state string
	err := row.Scan(&s.ID, &s.ESN, &s.GeofenceID, &s.LocationFixID, &s.OccurredAt, &state, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.State = model.FenceStatus(state)
	s.OccurredAt = s.OccurredAt.UTC()
	return &s, nil
}

func (r *PostgresFenceStateRepository) Create(ctx context.Context, state *model.FenceState) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO fence_states (esn, geofence_id, location_fix_id, occurred_at, state) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		state.ESN, state.GeofenceID, state.LocationFixID, state.OccurredAt, string(state.State),
	).Scan(&state.ID, &state.CreatedAt)
}

func (r *PostgresFenceStateRepository) History(ctx context.Context, geofenceID int64, limit int) ([]model.FenceState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, esn, geofence_id, location_fix_id, occurred_at, state, created_at FROM fence_states WHERE geofence_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`,
		geofenceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var states []model.FenceState
	for rows.Next() {
		var s model.FenceState
		var state string
		if err := rows.Scan(&s.ID, &s.ESN, &s.GeofenceID, &s.LocationFixID, &s.OccurredAt, &state, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.State = model.FenceStatus(state)
		states = append(states, s)
	}
	return states, rows.Err()
}

type PostgresFenceAlertRepository struct {
	db dbtx
}

func NewPostgresFenceAlertRepository(db *sql.DB) *PostgresFenceAlertRepository {
	return &PostgresFenceAlertRepository{db: db}
}

func (r *PostgresFenceAlertRepository) Create(ctx context.Context, alert *model.FenceAlert) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO fence_alerts (geofence_id, fence_state_id, webhook_url, processed_stage) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`,
		alert.GeofenceID, alert.FenceStateID, alert.WebhookURL, int(alert.ProcessedStage),
	).Scan(&alert.ID, &alert.CreatedAt, &alert.UpdatedAt)
}

// claimReturning joins in what the webhook body needs so delivery needs no further reads.
const claimReturning = `RETURNING a.id, a.geofence_id, a.fence_state_id, a.webhook_url, a.num_tries, s.esn, s.state, s.occurred_at, l.latitude, l.longitude`

// ClaimPending skips rows another dispatcher has locked.
func (r *PostgresFenceAlertRepository) ClaimPending(ctx context.Context, limit, maxAttempts int, claimedBefore time.Time) ([]model.AlertDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE fence_alerts a SET processed_stage = 1, updated_at = now()
		FROM fence_states s, location_fixes l
		WHERE a.id IN (
			SELECT id FROM fence_alerts
			WHERE (processed_stage = 0 OR (processed_stage = 1 AND updated_at < $3)) AND num_tries < $2
			ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED
		) AND s.id = a.fence_state_id AND l.id = s.location_fix_id
		`+claimReturning,
		limit, maxAttempts, claimedBefore,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var deliveries []model.AlertDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func (r *PostgresFenceAlertRepository) Claim(ctx context.Context, id int64) (*model.AlertDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE fence_alerts a SET processed_stage = 1, updated_at = now()
		FROM fence_states s, location_fixes l
		WHERE a.id = $1 AND a.processed_stage = 0 AND s.id = a.fence_state_id AND l.id = s.location_fix_id
		`+claimReturning,
		id,
	)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *PostgresFenceAlertRepository) MarkDelivered(ctx context.Context, id int64, responseCode int, response string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fence_alerts SET processed_stage = 2, sent_at = $2, response_code = $3, response = $4, num_tries = num_tries + 1, info = '', updated_at = now() WHERE id = $1`,
		id, sentAt, responseCode, response,
	)
	return err
}

func (r *PostgresFenceAlertRepository) MarkFailed(ctx context.Context, id int64, responseCode int, response, info string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE fence_alerts SET processed_stage = 0, response_code = $2, response = $3, info = $4, num_tries = num_tries + 1, updated_at = now() WHERE id = $1`,
		id, responseCode, response, info,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row scanner) (*model.AlertDelivery, error) {
	var d model.AlertDelivery
	var state string
	if err := row.Scan(&d.Alert.ID, &d.Alert.GeofenceID, &d.Alert.FenceStateID, &d.Alert.WebhookURL, &d.Alert.NumTries,
		&d.ESN, &state, &d.OccurredAt, &d.Latitude, &d.Longitude); err != nil {
		return nil, err
	}
	d.Alert.ProcessedStage = model.StageClaimed
	d.State = model.FenceStatus(state)
	d.OccurredAt = d.OccurredAt.UTC()
	return &d, nil
}
