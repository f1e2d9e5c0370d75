// Package calllog persists calls and their conversation turns.
//
// The call orchestrator must never wait on a database, so it talks to a
// [Writer], which implements call.Sink by queueing records and writing them
// to a [Store] from its own goroutine. Two stores are provided:
// [MemoryStore] for development and tests, and [PostgresStore].
package calllog

import (
	"context"
	"errors"

	"github.com/MrWong99/callpilot/internal/call"
)

// ErrNotFound is returned when a call ID is unknown.
var ErrNotFound = errors.New("calllog: call not found")

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// SaveCall inserts or updates the call identified by rec.ID.
	SaveCall(ctx context.Context, rec call.CallRecord) error

	// AppendTurn adds a turn to a call. The call must have been saved.
	AppendTurn(ctx context.Context, callID string, t call.Turn) error

	// RecentCalls returns up to limit calls, newest first.
	RecentCalls(ctx context.Context, limit int) ([]call.CallRecord, error)

	// Turns returns the turns of a call in order.
	Turns(ctx context.Context, callID string) ([]call.Turn, error)
}
