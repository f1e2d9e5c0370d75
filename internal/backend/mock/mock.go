// Package mock provides a test double for the backend.Responder interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callpilot/internal/backend"
)

// Responder is a mock implementation of backend.Responder.
type Responder struct {
	mu sync.Mutex

	// GreetingReply and GreetingErr are returned by Greeting.
	GreetingReply backend.Reply
	GreetingErr   error

	// RespondReply and RespondErr are returned by Respond. RespondFunc, when
	// set, takes precedence over both.
	RespondReply backend.Reply
	RespondErr   error
	RespondFunc  func(ctx context.Context, req backend.Request) (backend.Reply, error)

	// GreetingCalls and RespondCalls record invocations in order.
	GreetingCalls []string
	RespondCalls  []backend.Request

	// Ended records session IDs passed to EndSession.
	Ended []string
}

var (
	_ backend.Responder    = (*Responder)(nil)
	_ backend.SessionEnder = (*Responder)(nil)
)

// Greeting records the call and returns GreetingReply, GreetingErr.
func (r *Responder) Greeting(_ context.Context, sessionID string) (backend.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GreetingCalls = append(r.GreetingCalls, sessionID)
	return r.GreetingReply, r.GreetingErr
}

// Respond records the call and returns RespondReply, RespondErr.
func (r *Responder) Respond(ctx context.Context, req backend.Request) (backend.Reply, error) {
	r.mu.Lock()
	r.RespondCalls = append(r.RespondCalls, req)
	fn, rep, err := r.RespondFunc, r.RespondReply, r.RespondErr
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return rep, err
}

// EndSession records sessionID.
func (r *Responder) EndSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ended = append(r.Ended, sessionID)
}

// Requests returns a copy of RespondCalls.
func (r *Responder) Requests() []backend.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]backend.Request, len(r.RespondCalls))
	copy(out, r.RespondCalls)
	return out
}

// Greetings returns the number of Greeting calls.
func (r *Responder) Greetings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.GreetingCalls)
}
