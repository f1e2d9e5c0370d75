// Package statefeed fans orchestrator snapshots out to presentation clients:
// websocket subscribers on GET /v1/state and, optionally, a NATS subject.
package statefeed

import (
	"github.com/MrWong99/callpilot/internal/call"
)

// DefaultSubject is the NATS subject snapshots are published on.
const DefaultSubject = "callpilot.state"

// Source yields snapshots. [call.Orchestrator] implements it.
type Source interface {
	Subscribe() (<-chan call.Snapshot, func())
}

var _ Source = (*call.Orchestrator)(nil)
