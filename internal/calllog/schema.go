package calllog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─── calls ──────────────────────────────────────────────────────────────────

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id          TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ,
    mode        TEXT         NOT NULL DEFAULT '',
    turns       INTEGER      NOT NULL DEFAULT 0,
    outcome     TEXT         NOT NULL DEFAULT '',
    error       TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at DESC);
`

// ─── call turns ─────────────────────────────────────────────────────────────

const ddlCallTurns = `
CREATE TABLE IF NOT EXISTS call_turns (
    id          BIGSERIAL    PRIMARY KEY,
    call_id     TEXT         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_turns_call_id
    ON call_turns (call_id, id);
`

// Migrate creates the call log tables if they do not exist. It is
// idempotent and safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlCalls, ddlCallTurns} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("calllog: migrate: %w", err)
		}
	}
	return nil
}
