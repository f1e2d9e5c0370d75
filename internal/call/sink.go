package call

import (
	"context"
	"time"

	"github.com/MrWong99/callpilot/internal/turn"
)

// CallRecord summarises one call for persistence.
type CallRecord struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Mode      turn.Mode
	Turns     int
	Outcome   string
	Error     string
}

// Sink receives call lifecycle records. Implementations must not block; the
// dispatch loop calls them directly.
type Sink interface {
	CallStarted(ctx context.Context, rec CallRecord)
	TurnRecorded(ctx context.Context, callID string, t Turn)
	CallEnded(ctx context.Context, rec CallRecord)
}

type nopSink struct{}

func (nopSink) CallStarted(context.Context, CallRecord)    {}
func (nopSink) TurnRecorded(context.Context, string, Turn) {}
func (nopSink) CallEnded(context.Context, CallRecord)      {}
