package calllog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callpilot/internal/call"
	"github.com/MrWong99/callpilot/internal/observe"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// Writer is a [call.Sink] that persists records to a [Store] from a single
// background goroutine. The sink methods never block: when the queue is full
// the record is dropped and a warning is logged.
//
// Records are written in the order they were queued, so a call row always
// exists before its turns.
type Writer struct {
	store        Store
	queue        chan op
	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
}

var _ call.Sink = (*Writer)(nil)

type op struct {
	ctx    context.Context
	rec    *call.CallRecord
	callID string
	turn   call.Turn
}

// WriterOption configures a [Writer].
type WriterOption func(*Writer)

// WithQueueSize sets how many records may wait for the store.
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.queue = make(chan op, n)
		}
	}
}

// WithWriteTimeout bounds each store call.
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.writeTimeout = d
		}
	}
}

// NewWriter starts a writer for store. Call [Writer.Close] to flush it.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:        store,
		queue:        make(chan op, defaultQueueSize),
		writeTimeout: defaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	go w.run()
	return w
}

// CallStarted implements [call.Sink].
func (w *Writer) CallStarted(ctx context.Context, rec call.CallRecord) {
	w.enqueue(op{ctx: ctx, rec: &rec})
}

// TurnRecorded implements [call.Sink].
func (w *Writer) TurnRecorded(ctx context.Context, callID string, t call.Turn) {
	w.enqueue(op{ctx: ctx, callID: callID, turn: t})
}

// CallEnded implements [call.Sink].
func (w *Writer) CallEnded(ctx context.Context, rec call.CallRecord) {
	w.enqueue(op{ctx: ctx, rec: &rec})
}

// Dropped returns how many records were discarded because the queue was full.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Close stops accepting records and waits until the queue is written out.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	return nil
}

func (w *Writer) enqueue(o op) {
	// The call context is cancelled when the call ends; keep its values only.
	o.ctx = context.WithoutCancel(o.ctx)
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- o:
	default:
		w.dropped.Add(1)
		observe.Logger(o.ctx).Warn("call log queue full, dropping record", "dropped", w.dropped.Load())
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for o := range w.queue {
		w.write(o)
	}
}

func (w *Writer) write(o op) {
	ctx, cancel := context.WithTimeout(o.ctx, w.writeTimeout)
	defer cancel()

	var err error
	if o.rec != nil {
		err = w.store.SaveCall(ctx, *o.rec)
	} else {
		err = w.store.AppendTurn(ctx, o.callID, o.turn)
	}
	if err != nil {
		observe.Logger(ctx).Warn("call log write failed", slog.String("call_id", o.id()), "err", err)
	}
}

func (o op) id() string {
	if o.rec != nil {
		return o.rec.ID
	}
	return o.callID
}
