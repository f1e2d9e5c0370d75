// Package telephony defines the contract between callpilot and the device's
// telephony stack.
//
// The telephony stack is treated as an unreliable black box: it pushes call
// state transitions through a callback registered with [Source.Subscribe], and
// it can be queried on demand via [Source.State]. Push notifications may be
// dropped by the host platform, so consumers are expected to poll as well and
// to treat both inputs idempotently.
//
// Implementations live outside this package (see internal/bridge for the
// websocket bridge to the handset app, and telephony/mock for tests).
package telephony

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Source.Answer] when the host platform
// has not granted the permission required to answer calls programmatically.
var ErrPermissionDenied = errors.New("telephony: permission to answer calls denied")

// ErrNotRinging is returned by [Source.Answer] when there is no ringing call.
var ErrNotRinging = errors.New("telephony: no ringing call to answer")

// CallState is the normalised three-valued telephony signal.
type CallState int

const (
	// StateIdle means no call exists on the device.
	StateIdle CallState = iota

	// StateRinging means an incoming call is ringing and has not been answered.
	StateRinging

	// StateActive means a call is connected (off-hook).
	StateActive
)

// String returns the lowercase name of the state.
func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// ParseCallState converts the string form produced by [CallState.String]
// back into a CallState. Anything unrecognised maps to [StateIdle].
func ParseCallState(s string) CallState {
	switch s {
	case "ringing":
		return StateRinging
	case "active", "offhook":
		return StateActive
	default:
		return StateIdle
	}
}

// Platform call-state codes as reported by the handset's telephony manager.
const (
	PlatformCodeIdle    = 0
	PlatformCodeRinging = 1
	PlatformCodeOffhook = 2
)

// FromPlatformCode maps a raw platform call-state code to a CallState.
// Unknown codes are treated as idle.
func FromPlatformCode(code int) CallState {
	switch code {
	case PlatformCodeRinging:
		return StateRinging
	case PlatformCodeOffhook:
		return StateActive
	default:
		return StateIdle
	}
}

// Source is the abstraction over the device telephony stack.
//
// Implementations must be safe for concurrent use. Callbacks registered via
// Subscribe may be invoked from any goroutine and must not block.
type Source interface {
	// State queries the current call state. Implementations should return an
	// error rather than guessing when the query cannot be answered; callers
	// decide how to interpret the failure.
	State(ctx context.Context) (CallState, error)

	// Subscribe registers fn to receive pushed state transitions. The returned
	// cancel func unregisters it and is safe to call more than once.
	Subscribe(fn func(CallState)) (cancel func())

	// Answer asks the telephony stack to pick up the ringing call. It returns
	// ErrPermissionDenied when the platform refuses.
	Answer(ctx context.Context) error
}
