// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns the assistant's reply text into PCM16 audio that the
// call orchestrator can inject into the phone call. Replies are short, so the
// contract synthesises a whole utterance at once; providers that stream
// internally accumulate the audio before returning.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

// ErrEmptyText is returned when a request has no text to speak.
var ErrEmptyText = errors.New("tts: empty text")

// Request describes one synthesis call.
type Request struct {
	// Text is the utterance to speak.
	Text string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider's configured default.
	Voice string
}

// Speech is synthesised PCM16 audio with its format.
type Speech struct {
	PCM    []byte
	Format audio.Format
}

// Duration returns the playback length of s.
func (s Speech) Duration() time.Duration { return s.Format.Duration(len(s.PCM)) }

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize returns the audio for req.Text. It returns ErrEmptyText for
	// blank input.
	Synthesize(ctx context.Context, req Request) (Speech, error)
}
