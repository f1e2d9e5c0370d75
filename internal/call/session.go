package call

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/callpilot/internal/turn"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// State is the orchestrator's view of the call.
type State int

const (
	StateIdle State = iota
	StateIncoming
	StateActive
	StateRecording
	StateAISpeaking
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIncoming:
		return "incoming"
	case StateActive:
		return "active"
	case StateRecording:
		return "recording"
	case StateAISpeaking:
		return "ai_speaking"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateAISpeaking; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("call: unknown state %q", b)
}

// Owner says who holds the microphone path.
type Owner int

const (
	OwnerNone Owner = iota
	OwnerCapture
	OwnerPlayback
)

func (o Owner) String() string {
	switch o {
	case OwnerCapture:
		return "capture"
	case OwnerPlayback:
		return "playback"
	default:
		return "none"
	}
}

// Role identifies the speaker of a turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// history keeps the most recent turns in insertion order.
type history struct {
	limit int
	turns []Turn
}

func (h *history) add(t Turn) {
	h.turns = append(h.turns, t)
	if h.limit > 0 && len(h.turns) > h.limit {
		h.turns = append(h.turns[:0:0], h.turns[len(h.turns)-h.limit:]...)
	}
}

func (h *history) reset() { h.turns = nil }

func (h *history) snapshot() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// CallSession is everything the orchestrator knows about the current call.
// It is owned by the dispatch loop and never shared.
type CallSession struct {
	ID           string
	RemoteNumber string
	StartedAt    time.Time
	State        State

	answering    bool
	incomingStop func()

	// AI session. sessionID is empty while no session runs.
	inProgress bool
	sessionID  string
	mode       turn.Mode
	ctx        context.Context
	cancel     context.CancelFunc
	proc       turn.Processor
	work       *worker
	started    bool
	capturing  bool
	owner      Owner
	interval   *intervalClock
	buf        []byte
	bufFormat  audio.Format
	bufStart   time.Time
	turns      int
	connected  bool

	history history
	lastText string
	err      string
}

// Duration is the time since the call was first seen.
func (c *CallSession) Duration(now time.Time) time.Duration {
	if c == nil || c.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(c.StartedAt)
}
