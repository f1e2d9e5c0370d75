package calllog

import (
	"context"
	"sort"
	"sync"

	"github.com/MrWong99/callpilot/internal/call"
)

// MemoryStore keeps calls in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]call.CallRecord
	turns map[string][]call.Turn
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls: make(map[string]call.CallRecord),
		turns: make(map[string][]call.Turn),
	}
}

// SaveCall implements [Store].
func (s *MemoryStore) SaveCall(_ context.Context, rec call.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[rec.ID] = rec
	return nil
}

// AppendTurn implements [Store].
func (s *MemoryStore) AppendTurn(_ context.Context, callID string, t call.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[callID]; !ok {
		return ErrNotFound
	}
	s.turns[callID] = append(s.turns[callID], t)
	return nil
}

// RecentCalls implements [Store].
func (s *MemoryStore) RecentCalls(_ context.Context, limit int) ([]call.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]call.CallRecord, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Turns implements [Store].
func (s *MemoryStore) Turns(_ context.Context, callID string) ([]call.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[callID]; !ok {
		return nil, ErrNotFound
	}
	return append([]call.Turn(nil), s.turns[callID]...), nil
}
