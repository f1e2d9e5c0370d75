// Package audio defines the audio device contract and PCM helpers used by
// callpilot.
//
// The device itself (microphone capture and the in-call playback track) is an
// external collaborator. [Device] is intentionally narrow: it delivers
// fixed-size capture frames and accepts a stream of PCM for playback. Chunk
// interval logic and microphone arbitration belong to the call orchestrator,
// not to the device.
//
// This package lives under pkg/ because device adapters outside this module
// are expected to implement [Device].
package audio

import (
	"context"
	"errors"
)

// ErrPlaybackNotStarted is returned by [Device.WritePlayback] when no
// playback stream is open.
var ErrPlaybackNotStarted = errors.New("audio: playback stream not started")

// ErrDeviceUnavailable is returned when the underlying device (or the bridge
// to it) is not connected.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Device wraps the platform capture and playback primitives.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// StartCapture begins capturing and returns a channel of frames in capture
	// order. Calling StartCapture while already capturing returns the existing
	// channel. The channel is closed after StopCapture or when ctx ends.
	StartCapture(ctx context.Context) (<-chan AudioFrame, error)

	// StopCapture stops capturing. Safe to call when not capturing.
	StopCapture() error

	// StartPlayback opens a streaming output track at sampleRate (mono PCM16).
	// A second call while a stream is open is a no-op.
	StartPlayback(ctx context.Context, sampleRate int) error

	// WritePlayback queues pcm on the open output track. It may block while the
	// device drains. Returns ErrPlaybackNotStarted without an open stream.
	WritePlayback(pcm []byte) error

	// StopPlayback flushes and closes the output track, returning once the
	// audio has finished playing. Safe to call when not playing.
	StopPlayback() error

	// AbortPlayback discards queued audio and closes the output track without
	// waiting for it to play. A StopPlayback still draining returns early.
	// Safe to call when not playing.
	AbortPlayback() error
}
