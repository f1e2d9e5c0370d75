// Package turn implements the per-session turn processors that turn captured
// audio into assistant speech.
//
// A [Processor] is created by the call orchestrator for every call session
// and fed chunks and transport messages one at a time from a single worker
// goroutine, so a processor never sees two turns at once. Processors never
// touch the microphone; they drive the call through the [Host] callbacks.
//
// Three strategies are provided:
//
//   - [Batched]: transcribe each chunk, ask a [backend.Responder], speak the
//     reply.
//   - [Dual]: like Batched, but an interim and a final responder race for
//     the same utterance.
//   - [Streaming]: forward every chunk over a [transport.Client] and speak
//     whatever the remote backend sends back.
package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/callpilot/internal/backend"
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// AudioPlaceholder is the assistant turn text used when a reply carries
// audio but no transcript.
const AudioPlaceholder = "[audio response]"

// Mode selects the processor strategy for a session.
type Mode string

const (
	ModeBatched   Mode = "batched"
	ModeDual      Mode = "dual"
	ModeStreaming Mode = "streaming"
)

// Valid reports whether m names a known strategy.
func (m Mode) Valid() bool {
	switch m {
	case ModeBatched, ModeDual, ModeStreaming:
		return true
	}
	return false
}

// ErrUnknownMode is returned by [Factory.New] for an unrecognised mode.
var ErrUnknownMode = errors.New("turn: unknown processor mode")

// Speech is one assistant utterance to play into the call. Audio is mono
// PCM16 at SampleRate.
type Speech struct {
	Text       string
	Audio      []byte
	SampleRate int
}

// TurnText returns the text recorded for the assistant turn.
func (s Speech) TurnText() string {
	if s.Text == "" {
		return AudioPlaceholder
	}
	return s.Text
}

func speechFromReply(r backend.Reply) Speech {
	return Speech{Text: r.Text, Audio: r.Audio, SampleRate: r.SampleRate}
}

// Host is the orchestrator side of a session as seen by a processor.
//
// All methods are safe to call from the worker goroutine.
type Host interface {
	// SessionID identifies the current call session.
	SessionID() string

	// Transcribed records a caller turn.
	Transcribed(text string)

	// Speak plays s into the call and blocks until playback has finished or
	// ctx ends. The microphone is released for the duration.
	Speak(ctx context.Context, s Speech) error

	// Report surfaces a non-fatal, user-visible error.
	Report(err error)
}

// Processor handles the chunks and transport messages of one call session.
type Processor interface {
	// Start prepares the session: the streaming processor connects its
	// transport, the batched processors speak the greeting.
	Start(ctx context.Context) error

	// HandleChunk processes one captured chunk.
	HandleChunk(ctx context.Context, c audio.Chunk) error

	// HandleMessage processes one inbound transport message.
	HandleMessage(ctx context.Context, m transport.Message) error

	// Close releases the processor's resources. Idempotent.
	Close() error
}

// Factory builds processors for new sessions. th receives the inbound
// traffic of a streaming transport; batched processors ignore it.
type Factory interface {
	New(mode Mode, host Host, th transport.Handler) (Processor, error)
}

// FactoryFunc adapts a function to [Factory].
type FactoryFunc func(mode Mode, host Host, th transport.Handler) (Processor, error)

// New calls f.
func (f FactoryFunc) New(mode Mode, host Host, th transport.Handler) (Processor, error) {
	return f(mode, host, th)
}

// Deps holds the collaborators shared by all processors built by
// [NewFactory].
type Deps struct {
	// Batched is the STT, responder and gating setup for batched and dual
	// processors.
	Batched BatchedConfig

	// Interim is the fast responder raced against Batched.Responder in dual
	// mode.
	Interim backend.Responder

	// NewTransport returns a fresh client for a streaming session.
	NewTransport func(h transport.Handler) transport.Client
}

// NewFactory returns a [Factory] building processors from deps.
func NewFactory(deps Deps) Factory {
	return FactoryFunc(func(mode Mode, host Host, th transport.Handler) (Processor, error) {
		switch mode {
		case ModeBatched:
			return NewBatched(host, deps.Batched)
		case ModeDual:
			return NewDual(host, deps.Batched, deps.Interim)
		case ModeStreaming:
			if deps.NewTransport == nil {
				return nil, fmt.Errorf("turn: streaming mode needs a transport")
			}
			return NewStreaming(host, deps.NewTransport(th)), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
		}
	})
}
