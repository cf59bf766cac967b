package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresArchive stores sessions in the fx_sessions table. Farm context
// and message history are JSONB columns.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive connects, pings and creates the table if needed.
func NewPostgresArchive(ctx context.Context, connURL string) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	a := &PostgresArchive{pool: pool}
	if err := a.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL session archive initialized")
	return a, nil
}

// Migrate creates the sessions table and its index.
func (a *PostgresArchive) Migrate(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fx_sessions (
			id                 TEXT PRIMARY KEY,
			farm               JSONB NOT NULL DEFAULT '{}',
			messages           JSONB NOT NULL DEFAULT '[]',
			active_workflow_id TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_fx_sessions_updated ON fx_sessions (updated_at);
	`)
	return err
}

// Ping checks the database is reachable.
func (a *PostgresArchive) Ping(ctx context.Context) error { return a.pool.Ping(ctx) }

func (a *PostgresArchive) SaveSession(ctx context.Context, session *models.Session) error {
	farm, err := json.Marshal(session.Farm)
	if err != nil {
		return fmt.Errorf("marshal farm: %w", err)
	}
	messages := session.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	msgs, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO fx_sessions (id, farm, messages, active_workflow_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			farm = EXCLUDED.farm,
			messages = EXCLUDED.messages,
			active_workflow_id = EXCLUDED.active_workflow_id,
			updated_at = EXCLUDED.updated_at`,
		session.ID, farm, msgs, session.ActiveWorkflowID, session.CreatedAt, updated)
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

func (a *PostgresArchive) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		s          models.Session
		farm, msgs []byte
	)
	err := a.pool.QueryRow(ctx, `
		SELECT id, farm, messages, active_workflow_id, created_at, updated_at
		FROM fx_sessions WHERE id = $1`, id).
		Scan(&s.ID, &farm, &msgs, &s.ActiveWorkflowID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if err := json.Unmarshal(farm, &s.Farm); err != nil {
		return nil, fmt.Errorf("decode farm for %s: %w", id, err)
	}
	if err := json.Unmarshal(msgs, &s.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", id, err)
	}
	return &s, nil
}

func (a *PostgresArchive) DeleteSession(ctx context.Context, id string) error {
	if _, err := a.pool.Exec(ctx, `DELETE FROM fx_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() error {
	a.pool.Close()
	log.Info().Msg("PostgreSQL session archive closed")
	return nil
}
