// Package backend defines the batched-mode AI backend: given a caller
// utterance it returns the assistant's reply as text plus audio.
//
// Two implementations are provided. [Pipeline] runs an LLM and a TTS provider
// in-process and keeps a token-budgeted conversation per session. [Remote]
// delegates to an HTTP service that does the same thing out of process.
package backend

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a backend produced a reply without playable
// audio.
var ErrNoAudio = errors.New("backend: reply carries no audio")

// Request is one caller utterance to respond to.
type Request struct {
	UtteranceText string
	SessionID     string
}

// Reply is the assistant's answer. Audio is mono PCM16 at SampleRate.
type Reply struct {
	Text       string
	Audio      []byte
	SampleRate int
}

// HasAudio reports whether the reply carries at least one sample.
func (r Reply) HasAudio() bool { return len(r.Audio) >= 2 && r.SampleRate > 0 }

// Responder produces assistant replies for a call session.
//
// Implementations must be safe for concurrent use; the dual-endpoint
// processor calls two responders for the same utterance at once.
type Responder interface {
	// Greeting returns the opening line spoken when the AI path starts.
	Greeting(ctx context.Context, sessionID string) (Reply, error)

	// Respond answers one caller utterance.
	Respond(ctx context.Context, req Request) (Reply, error)
}

// SessionEnder is implemented by responders that keep per-session state.
// EndSession releases it and is safe to call for unknown sessions.
type SessionEnder interface {
	EndSession(sessionID string)
}

// End calls EndSession on r if it keeps per-session state.
func End(r Responder, sessionID string) {
	if se, ok := r.(SessionEnder); ok {
		se.EndSession(sessionID)
	}
}
