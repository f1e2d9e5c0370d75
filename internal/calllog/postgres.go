package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callpilot/internal/call"
	"github.com/MrWong99/callpilot/internal/turn"
)

// foreignKeyViolation is the SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// PostgresStore persists calls in PostgreSQL. All methods are safe for
// concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and runs
// [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("calllog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping checks that the database is reachable. It backs the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// SaveCall implements [Store].
func (s *PostgresStore) SaveCall(ctx context.Context, rec call.CallRecord) error {
	const q = `
		INSERT INTO calls (id, started_at, ended_at, mode, turns, outcome, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    ended_at = EXCLUDED.ended_at,
		    mode     = EXCLUDED.mode,
		    turns    = EXCLUDED.turns,
		    outcome  = EXCLUDED.outcome,
		    error    = EXCLUDED.error`

	var ended *time.Time
	if !rec.EndedAt.IsZero() {
		ended = &rec.EndedAt
	}
	_, err := s.pool.Exec(ctx, q, rec.ID, rec.StartedAt, ended, string(rec.Mode), rec.Turns, rec.Outcome, rec.Error)
	if err != nil {
		return fmt.Errorf("calllog: save call: %w", err)
	}
	return nil
}

// AppendTurn implements [Store].
func (s *PostgresStore) AppendTurn(ctx context.Context, callID string, t call.Turn) error {
	const q = `
		INSERT INTO call_turns (call_id, role, text, timestamp)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, q, callID, string(t.Role), t.Text, t.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("calllog: append turn: %w", err)
	}
	return nil
}

// RecentCalls implements [Store].
func (s *PostgresStore) RecentCalls(ctx context.Context, limit int) ([]call.CallRecord, error) {
	const q = `
		SELECT id, started_at, ended_at, mode, turns, outcome, error
		FROM   calls
		ORDER  BY started_at DESC
		LIMIT  $1`

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("calllog: recent calls: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (call.CallRecord, error) {
		var (
			rec   call.CallRecord
			ended *time.Time
			mode  string
		)
		err := row.Scan(&rec.ID, &rec.StartedAt, &ended, &mode, &rec.Turns, &rec.Outcome, &rec.Error)
		if ended != nil {
			rec.EndedAt = *ended
		}
		rec.Mode = turn.Mode(mode)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("calllog: scan calls: %w", err)
	}
	return recs, nil
}

// Turns implements [Store].
func (s *PostgresStore) Turns(ctx context.Context, callID string) ([]call.Turn, error) {
	const exists = `SELECT EXISTS (SELECT 1 FROM calls WHERE id = $1)`
	const q = `
		SELECT role, text, timestamp
		FROM   call_turns
		WHERE  call_id = $1
		ORDER  BY id`

	var ok bool
	if err := s.pool.QueryRow(ctx, exists, callID).Scan(&ok); err != nil {
		return nil, fmt.Errorf("calllog: lookup call: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("calllog: turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (call.Turn, error) {
		var (
			t    call.Turn
			role string
		)
		err := row.Scan(&role, &t.Text, &t.Timestamp)
		t.Role = call.Role(role)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("calllog: scan turns: %w", err)
	}
	return turns, nil
}
