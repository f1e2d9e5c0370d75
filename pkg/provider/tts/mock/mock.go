// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Speech: tts.Speech{PCM: pcm, Format: audio.Format{SampleRate: 16000, Channels: 1}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callpilot/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize.
	Speech tts.Speech

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Hook, if set, runs before Synthesize returns. It may block to simulate
	// latency.
	Hook func(ctx context.Context, req tts.Request)

	// Calls records every request in order.
	Calls []tts.Request
}

// Synthesize records the call and returns Speech, Err.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	sp, err, hook := p.Speech, p.Err, p.Hook
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err != nil {
		return tts.Speech{}, err
	}
	return sp, nil
}

// Texts returns the text of every recorded request. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
