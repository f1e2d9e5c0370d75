// Package mock provides an in-memory [telephony.Source] for tests.
//
// Set StateResult/StateErr to control what polling sees, call Push to simulate
// a platform notification, and inspect AnswerCallCount afterwards.
//
//	src := &mock.Source{StateResult: telephony.StateRinging}
//	src.Push(telephony.StateRinging)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callpilot/pkg/telephony"
)

// Source is a mock implementation of [telephony.Source].
type Source struct {
	mu sync.Mutex

	// StateResult is returned by State.
	StateResult telephony.CallState

	// StateErr, if non-nil, is returned by State.
	StateErr error

	// AnswerErr, if non-nil, is returned by Answer.
	AnswerErr error

	// AnswerHook, if set, is invoked by Answer before returning.
	AnswerHook func()

	// AnswerCallCount records how many times Answer was called.
	AnswerCallCount int

	// StateCallCount records how many times State was called.
	StateCallCount int

	subs   map[int]func(telephony.CallState)
	nextID int
}

var _ telephony.Source = (*Source)(nil)

// State implements [telephony.Source].
func (s *Source) State(_ context.Context) (telephony.CallState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StateCallCount++
	if s.StateErr != nil {
		return telephony.StateIdle, s.StateErr
	}
	return s.StateResult, nil
}

// Subscribe implements [telephony.Source].
func (s *Source) Subscribe(fn func(telephony.CallState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(telephony.CallState))
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Answer implements [telephony.Source].
func (s *Source) Answer(_ context.Context) error {
	s.mu.Lock()
	s.AnswerCallCount++
	err := s.AnswerErr
	hook := s.AnswerHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// SetState updates the value returned by subsequent State calls without
// notifying subscribers (a dropped push notification).
func (s *Source) SetState(state telephony.CallState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StateResult = state
}

// Push sets the polled state and notifies every subscriber synchronously.
func (s *Source) Push(state telephony.CallState) {
	s.mu.Lock()
	s.StateResult = state
	subs := make([]func(telephony.CallState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

// Answers returns AnswerCallCount. Thread-safe.
func (s *Source) Answers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AnswerCallCount
}

// Subscribers returns the number of active subscriptions. Thread-safe.
func (s *Source) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
