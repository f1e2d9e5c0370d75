package call

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/internal/turn"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// Queue bounds per mode.
const (
	batchedQueueSize   = 8
	streamingQueueSize = 256
)

// workItem is either a chunk or a transport message.
type workItem struct {
	chunk *audio.Chunk
	msg   *transport.Message
}

// worker feeds a processor one item at a time, in FIFO order, so turns never
// overlap. When the queue is full the oldest item is dropped.
type worker struct {
	proc    turn.Processor
	limit   int
	mode    turn.Mode
	metrics *observe.Metrics

	mu     sync.Mutex
	items  []workItem
	wake   chan struct{}
	closed bool
}

func newWorker(proc turn.Processor, mode turn.Mode, metrics *observe.Metrics) *worker {
	limit := batchedQueueSize
	if mode == turn.ModeStreaming {
		limit = streamingQueueSize
	}
	return &worker{
		proc:    proc,
		limit:   limit,
		mode:    mode,
		metrics: metrics,
		wake:    make(chan struct{}, 1),
	}
}

// enqueue appends it and reports whether an older item was dropped.
func (w *worker) enqueue(ctx context.Context, it workItem) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	dropped := false
	if len(w.items) >= w.limit {
		w.items = w.items[1:]
		dropped = true
	}
	w.items = append(w.items, it)
	w.mu.Unlock()

	if dropped {
		observe.Logger(ctx).Warn("worker queue full, dropped oldest item", "limit", w.limit)
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (w *worker) next() (workItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.items) == 0 {
		return workItem{}, false
	}
	it := w.items[0]
	w.items[0] = workItem{}
	w.items = w.items[1:]
	return it, true
}

// run processes items until ctx ends.
func (w *worker) run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.closed = true
		w.items = nil
		w.mu.Unlock()
	}()
	log := observe.Logger(ctx)
	for {
		it, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, log, it)
	}
}

func (w *worker) process(ctx context.Context, log *slog.Logger, it workItem) {
	switch {
	case it.chunk != nil:
		w.metrics.RecordChunk(ctx, string(w.mode))
		if err := w.proc.HandleChunk(ctx, *it.chunk); err != nil && ctx.Err() == nil {
			log.Warn("chunk processing failed", "err", err, "duration", it.chunk.Duration())
		}
	case it.msg != nil:
		if err := w.proc.HandleMessage(ctx, *it.msg); err != nil && ctx.Err() == nil {
			log.Warn("stream message processing failed", "type", string(it.msg.Type), "err", err)
		}
	}
}
