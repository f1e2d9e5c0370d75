// Package mock provides test doubles for turn.Processor and turn.Host.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/internal/turn"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// Processor is a mock implementation of turn.Processor.
type Processor struct {
	mu sync.Mutex

	// StartErr is returned by Start.
	StartErr error

	// StartHook, if set, runs inside Start before it returns. It may block.
	StartHook func(ctx context.Context)

	// ChunkHook, if set, runs for every chunk; its result is returned.
	ChunkHook func(ctx context.Context, c audio.Chunk) error

	// MessageHook, if set, runs for every message; its result is returned.
	MessageHook func(ctx context.Context, m transport.Message) error

	Starts   int
	Chunks   []audio.Chunk
	Messages []transport.Message
	Closes   int
}

var _ turn.Processor = (*Processor)(nil)

// Start implements turn.Processor.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	p.Starts++
	hook, err := p.StartHook, p.StartErr
	p.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return err
}

// HandleChunk implements turn.Processor.
func (p *Processor) HandleChunk(ctx context.Context, c audio.Chunk) error {
	p.mu.Lock()
	p.Chunks = append(p.Chunks, c)
	hook := p.ChunkHook
	p.mu.Unlock()
	if hook != nil {
		return hook(ctx, c)
	}
	return nil
}

// HandleMessage implements turn.Processor.
func (p *Processor) HandleMessage(ctx context.Context, m transport.Message) error {
	p.mu.Lock()
	p.Messages = append(p.Messages, m)
	hook := p.MessageHook
	p.mu.Unlock()
	if hook != nil {
		return hook(ctx, m)
	}
	return nil
}

// Close implements turn.Processor.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closes++
	return nil
}

// ChunkCount returns the number of chunks handled.
func (p *Processor) ChunkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Chunks)
}

// CloseCount returns the number of Close calls.
func (p *Processor) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closes
}

// StartCount returns the number of Start calls.
func (p *Processor) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Starts
}

// Host is a mock implementation of turn.Host that records every callback.
type Host struct {
	mu sync.Mutex

	ID string

	// SpeakErr is returned by Speak.
	SpeakErr error

	// SpeakHook, if set, runs inside Speak. It may block to simulate
	// playback time.
	SpeakHook func(ctx context.Context, s turn.Speech)

	Transcripts []string
	Spoken      []turn.Speech
	Reports     []error
}

var _ turn.Host = (*Host)(nil)

// SessionID implements turn.Host.
func (h *Host) SessionID() string { return h.ID }

// Transcribed implements turn.Host.
func (h *Host) Transcribed(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Transcripts = append(h.Transcripts, text)
}

// Speak implements turn.Host.
func (h *Host) Speak(ctx context.Context, s turn.Speech) error {
	h.mu.Lock()
	hook, err := h.SpeakHook, h.SpeakErr
	h.mu.Unlock()
	if hook != nil {
		hook(ctx, s)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Spoken = append(h.Spoken, s)
	return err
}

// Report implements turn.Host.
func (h *Host) Report(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Reports = append(h.Reports, err)
}

// SpokenTexts returns the text of every Speak call in order.
func (h *Host) SpokenTexts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.Spoken))
	for i, s := range h.Spoken {
		out[i] = s.Text
	}
	return out
}

// TranscriptList returns a copy of Transcripts.
func (h *Host) TranscriptList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.Transcripts...)
}
