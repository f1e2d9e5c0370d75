// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one closed chunk of caller audio into text. Chunks are
// produced by the call orchestrator at fixed intervals, so the contract is
// batch-oriented: one request, one [Transcript]. A provider that hears nothing
// returns a Transcript with empty Text and a nil error; callers treat that as
// "no speech" and skip the turn.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

// ErrEmptyAudio is returned when a request carries no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request describes one transcription call.
type Request struct {
	// Audio is the PCM16 chunk to transcribe.
	Audio audio.Chunk

	// Language is a BCP-47 hint (e.g., "en", "de-DE"). Empty lets the
	// provider auto-detect.
	Language string

	// Prompt is optional context that biases recognition (previous turn text,
	// expected vocabulary). Providers that do not support prompts ignore it.
	Prompt string
}

// Transcript is the result of a transcription call.
type Transcript struct {
	// Text is the recognised speech, trimmed. Empty means no speech.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req.Audio. It returns ErrEmptyAudio
	// for a zero-length chunk and a wrapped transport error when the backend
	// cannot be reached.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
