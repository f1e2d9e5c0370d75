package call

import (
	"sync"
	"time"

	"github.com/MrWong99/callpilot/internal/turn"
)

// Snapshot is the presentation view of the orchestrator.
type Snapshot struct {
	CallState         State         `json:"callState"`
	CallID            string        `json:"callId,omitempty"`
	SessionID         string        `json:"sessionId,omitempty"`
	IsConnected       bool          `json:"isConnected"`
	LastTranscription string        `json:"lastTranscription,omitempty"`
	History           []Turn        `json:"history"`
	CallDuration      time.Duration `json:"callDuration"`
	Mode              turn.Mode     `json:"mode"`
	Error             string        `json:"error,omitempty"`
	At                time.Time     `json:"at"`
}

// feed stores the latest snapshot and fans it out to subscribers. A slow
// subscriber only ever sees the newest value.
type feed struct {
	mu     sync.Mutex
	latest Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

func (f *feed) publish(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = s
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (f *feed) get() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *feed) subscribe() (<-chan Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]chan Snapshot)
	}
	id := f.nextID
	f.nextID++
	ch := make(chan Snapshot, 1)
	ch <- f.latest
	f.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
		})
	}
}
