// Package store provides the durable session archive behind the in-process
// session store. MemoryArchive is used in local dev and tests (optionally
// snapshotting to a JSON file); PostgresArchive is used in production.
package store

import (
	"context"
	"errors"

	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a session is not in the archive.
var ErrNotFound = errors.New("store: session not found")

var (
	_ contracts.SessionArchive = (*MemoryArchive)(nil)
	_ contracts.SessionArchive = (*PostgresArchive)(nil)
)

// Open picks the archive implementation from config: PostgreSQL when a
// database URL is set, the in-memory archive otherwise.
func Open(ctx context.Context, cfg config.ArchiveConfig) (contracts.SessionArchive, error) {
	if cfg.DatabaseURL != "" {
		pg, err := NewPostgresArchive(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	log.Info().Str("data_dir", cfg.DataDir).Msg("DATABASE_URL not set, using in-memory session archive")
	return NewMemoryArchive(cfg.DataDir), nil
}
