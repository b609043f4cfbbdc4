package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/apex-timing/internal/config"
)

// Schema holds the core-relevant tables: the reading log, the stage fields
// the engine owns, and the per-device counters. Competitor and event
// administration own the rest of their rows.
const Schema = `
CREATE TABLE IF NOT EXISTS stages (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	format        TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'NOT_STARTED',
	start_time    TIMESTAMPTZ,
	flag_time     TIMESTAMPTZ,
	config        JSONB,
	cache_version BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS registrations (
	id            UUID PRIMARY KEY,
	stage_id      UUID NOT NULL REFERENCES stages(id),
	bib           INT NOT NULL,
	rider         TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'ACTIVE',
	status_reason TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (stage_id, bib)
);

CREATE TABLE IF NOT EXISTS devices (
	id                UUID PRIMARY KEY,
	serial            TEXT NOT NULL,
	stage_id          UUID NOT NULL REFERENCES stages(id),
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	readings_seen     BIGINT NOT NULL DEFAULT 0,
	readings_accepted BIGINT NOT NULL DEFAULT 0,
	last_seen_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS readings (
	id                 UUID PRIMARY KEY,
	stage_id           UUID NOT NULL REFERENCES stages(id),
	bib                INT NOT NULL,
	kind               TEXT NOT NULL,
	timestamp_utc      TIMESTAMPTZ NOT NULL,
	special            INT NOT NULL DEFAULT 0,
	lap                INT NOT NULL DEFAULT 0,
	device_id          UUID NOT NULL,
	elapsed_seconds    NUMERIC(12,3),
	discarded          BOOLEAN NOT NULL DEFAULT FALSE,
	discard_reason     TEXT,
	identity_hash      TEXT NOT NULL,
	manually_corrected BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Identity is unique only among non-discarded rows: a correction retires the
-- old hash and a resubmission of the corrected payload must not collide.
CREATE UNIQUE INDEX IF NOT EXISTS readings_identity_live
	ON readings (stage_id, identity_hash) WHERE NOT discarded;
CREATE INDEX IF NOT EXISTS readings_stage_ts
	ON readings (stage_id, timestamp_utc);
CREATE INDEX IF NOT EXISTS readings_dedup
	ON readings (stage_id, bib, kind, special, lap, timestamp_utc);
`

// Initialize creates a database connection pool and ensures the schema exists.
func Initialize(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	// A concurrently starting replica must never observe half a schema.
	err = db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, Schema)
		return execErr
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}
