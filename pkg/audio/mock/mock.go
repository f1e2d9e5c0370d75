// Package mock provides an in-memory [audio.Device] for unit tests.
//
// The mock records every call. Tests feed capture frames through Frames (the
// channel returned by StartCapture) and inspect Written for playback data.
//
//	dev := mock.NewDevice()
//	frames, _ := dev.StartCapture(ctx)
//	dev.Emit(audio.AudioFrame{Data: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callpilot/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// StartCaptureErr, if non-nil, is returned by StartCapture.
	StartCaptureErr error

	// StartPlaybackErr, if non-nil, is returned by StartPlayback.
	StartPlaybackErr error

	// WriteErr, if non-nil, is returned by WritePlayback.
	WriteErr error

	// OnStopPlayback, if set, runs inside StopPlayback while a stream is open.
	// Tests use it to observe or delay playback completion.
	OnStopPlayback func()

	// Written holds a copy of every successfully written playback buffer.
	Written [][]byte

	// PlaybackRates records the sample rate of every opened playback stream.
	PlaybackRates []int

	CallCountStartCapture  int
	CallCountStopCapture   int
	CallCountStartPlayback int
	CallCountStopPlayback  int
	CallCountAbortPlayback int

	frames    chan audio.AudioFrame
	capturing bool
	playing   bool
}

// NewDevice returns an idle Device. Its capture channel buffers 256 frames.
func NewDevice() *Device { return &Device{} }

var _ audio.Device = (*Device)(nil)

// StartCapture implements [audio.Device].
func (d *Device) StartCapture(_ context.Context) (<-chan audio.AudioFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStartCapture++
	if d.StartCaptureErr != nil {
		return nil, d.StartCaptureErr
	}
	if d.capturing {
		return d.frames, nil
	}
	d.frames = make(chan audio.AudioFrame, 256)
	d.capturing = true
	return d.frames, nil
}

// StopCapture implements [audio.Device].
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStopCapture++
	if d.capturing {
		close(d.frames)
		d.capturing = false
	}
	return nil
}

// Emit delivers a frame to the current capture channel. It reports false when
// capture is not running or the buffer is full.
func (d *Device) Emit(f audio.AudioFrame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.capturing {
		return false
	}
	select {
	case d.frames <- f:
		return true
	default:
		return false
	}
}

// StartPlayback implements [audio.Device].
func (d *Device) StartPlayback(_ context.Context, sampleRate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStartPlayback++
	if d.StartPlaybackErr != nil {
		return d.StartPlaybackErr
	}
	if d.playing {
		return nil
	}
	d.playing = true
	d.PlaybackRates = append(d.PlaybackRates, sampleRate)
	return nil
}

// WritePlayback implements [audio.Device].
func (d *Device) WritePlayback(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.playing {
		return audio.ErrPlaybackNotStarted
	}
	if d.WriteErr != nil {
		return d.WriteErr
	}
	d.Written = append(d.Written, append([]byte(nil), pcm...))
	return nil
}

// StopPlayback implements [audio.Device].
func (d *Device) StopPlayback() error {
	d.mu.Lock()
	d.CallCountStopPlayback++
	wasPlaying := d.playing
	d.playing = false
	hook := d.OnStopPlayback
	d.mu.Unlock()
	if wasPlaying && hook != nil {
		hook()
	}
	return nil
}

// AbortPlayback implements [audio.Device]. OnStopPlayback is not called.
func (d *Device) AbortPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountAbortPlayback++
	d.playing = false
	return nil
}

// Aborts returns CallCountAbortPlayback. Thread-safe.
func (d *Device) Aborts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountAbortPlayback
}

// Capturing reports whether capture is running. Thread-safe.
func (d *Device) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

// Playing reports whether a playback stream is open. Thread-safe.
func (d *Device) Playing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

// WrittenBytes returns the total number of playback bytes written. Thread-safe.
func (d *Device) WrittenBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.Written {
		n += len(w)
	}
	return n
}
