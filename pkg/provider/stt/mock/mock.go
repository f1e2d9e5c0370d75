// Package mock provides a test double for [stt.Provider].
//
// Configure Results (consumed in order, the last one repeats) or a fixed
// Transcript, then inspect Calls afterwards.
//
//	p := &mock.Provider{Results: []stt.Transcript{{Text: "hello"}, {Text: ""}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callpilot/pkg/provider/stt"
)

// Provider is a mock implementation of [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// Results are returned by successive Transcribe calls. Once exhausted the
	// last entry repeats. An empty slice yields an empty Transcript.
	Results []stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Hook, if set, runs before Transcribe returns. It may block to simulate
	// latency; it receives the call context.
	Hook func(ctx context.Context, req stt.Request)

	// Calls records every request.
	Calls []stt.Request
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	p.Calls = append(p.Calls, req)
	hook, err := p.Hook, p.Err
	var out stt.Transcript
	if n := len(p.Results); n > 0 {
		out = p.Results[min(idx, n-1)]
	}
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return out, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
