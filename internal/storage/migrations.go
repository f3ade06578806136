package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS custom_operators (
		id          BIGSERIAL PRIMARY KEY,
		prefix      TEXT NOT NULL,
		name        TEXT NOT NULL,
		priority    INTEGER NOT NULL DEFAULT 0,
		color       TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (prefix, name)
	)`,
	`CREATE TABLE IF NOT EXISTS hide_rules (
		id          BIGSERIAL PRIMARY KEY,
		type        TEXT NOT NULL CHECK (type IN ('dev_addr', 'join_eui')),
		prefix      TEXT NOT NULL,
		description TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (type, prefix)
	)`,
	`CREATE TABLE IF NOT EXISTS gateways (
		gateway_id  TEXT PRIMARY KEY,
		name        TEXT,
		latitude    DOUBLE PRECISION,
		longitude   DOUBLE PRECISION,
		altitude    DOUBLE PRECISION,
		first_seen  TIMESTAMPTZ NOT NULL,
		last_seen   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS device_metadata (
		dev_addr         TEXT PRIMARY KEY,
		dev_eui          TEXT,
		device_name      TEXT,
		application_name TEXT,
		last_updated     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gateways_last_seen ON gateways (last_seen DESC)`,
}

// Migrate applies pending migrations inside a single transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}

	if current < len(migrations) {
		log.Info().
			Int("from", current).
			Int("to", len(migrations)).
			Msg("Database schema migrated")
	}
	return nil
}
