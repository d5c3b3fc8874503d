package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

var _ CanonicalMessageRepository = (*PostgresCanonicalRepository)(nil)

const canonicalColumns = `id, external_message_id, esn, source, value, meta, occurred_at, dedup_key, origin_type, origin_id, is_sent, num_tries, info`

type PostgresCanonicalRepository struct {
	db *sql.DB
}

func NewPostgresCanonicalRepository(db *sql.DB) *PostgresCanonicalRepository {
	return &PostgresCanonicalRepository{db: db}
}

func (r *PostgresCanonicalRepository) FindByDedupKey(ctx context.Context, key string) (*model.CanonicalMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_messages WHERE dedup_key = $1`,
		key,
	)
	msg, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Save relies on the unique dedup_key index: the insert is skipped on conflict
// and the winning row is read back in a fresh statement.
func (r *PostgresCanonicalRepository) Save(ctx context.Context, msg *model.CanonicalMessage) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO canonical_messages (external_message_id, esn, source, value, meta, occurred_at, dedup_key, origin_type, origin_id, is_sent, num_tries, info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id`,
		msg.ExternalMessageID, msg.ESN, string(msg.Source), msg.Value, msg.Meta, msg.OccurredAt,
		msg.DedupKey, msg.OriginType, msg.OriginID, msg.IsSent, msg.NumTries, msg.Info,
	).Scan(&msg.ID)
	if err == nil {
		msg.Persisted = true
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("insert canonical message: %w", err)
	}

	existing, err := r.FindByDedupKey(ctx, msg.DedupKey)
	if err != nil {
		return fmt.Errorf("load canonical message: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("canonical message %s: %w", msg.DedupKey, ErrNotFound)
	}
	*msg = *existing
	return nil
}

func (r *PostgresCanonicalRepository) UpdateDelivery(ctx context.Context, msg *model.CanonicalMessage) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE canonical_messages SET is_sent = $2, num_tries = $3, info = $4, origin_type = $5, origin_id = $6, updated_at = now() WHERE id = $1`,
		msg.ID, msg.IsSent, msg.NumTries, msg.Info, msg.OriginType, msg.OriginID,
	)
	return err
}

func scanCanonical(row *sql.Row) (*model.CanonicalMessage, error) {
	var m model.CanonicalMessage
	var source string
	if err := row.Scan(&m.ID, &m.ExternalMessageID, &m.ESN, &source, &m.Value, &m.Meta, &m.OccurredAt,
		&m.DedupKey, &m.OriginType, &m.OriginID, &m.IsSent, &m.NumTries, &m.Info); err != nil {
		return nil, err
	}
	m.Source = model.Source(source)
	m.OccurredAt = m.OccurredAt.UTC()
	m.Persisted = true
	return &m, nil
}
