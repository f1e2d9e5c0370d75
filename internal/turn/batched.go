package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callpilot/internal/backend"
	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/provider/stt"
)

// BatchedConfig configures [Batched] and [Dual] processors.
type BatchedConfig struct {
	// STT transcribes each chunk.
	STT stt.Provider

	// Responder answers each utterance.
	Responder backend.Responder

	// SampleRate is the rate chunks are resampled to before STT. Zero
	// keeps the capture rate.
	SampleRate int

	// SilenceRMS skips chunks whose RMS is below it without calling STT.
	// Zero disables the gate.
	SilenceRMS float64

	// Language is passed to STT as a hint.
	Language string

	// Metrics records turn durations. Nil uses observe.DefaultMetrics.
	Metrics *observe.Metrics
}

func (c BatchedConfig) validate() error {
	var errs []error
	if c.STT == nil {
		errs = append(errs, errors.New("turn: batched processor needs an STT provider"))
	}
	if c.Responder == nil {
		errs = append(errs, errors.New("turn: batched processor needs a responder"))
	}
	return errors.Join(errs...)
}

// Batched transcribes each chunk and speaks the responder's reply.
type Batched struct {
	host Host
	cfg  BatchedConfig
	mode Mode

	closeOnce sync.Once
}

var _ Processor = (*Batched)(nil)

// NewBatched returns a batched processor bound to host.
func NewBatched(host Host, cfg BatchedConfig) (*Batched, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Batched{host: host, cfg: cfg, mode: ModeBatched}, nil
}

// Start speaks the greeting. A greeting failure is logged and does not fail
// the session.
func (b *Batched) Start(ctx context.Context) error {
	greet(ctx, b.host, b.cfg.Responder)
	return nil
}

func greet(ctx context.Context, host Host, r backend.Responder) {
	log := observe.Logger(ctx)
	rep, err := r.Greeting(ctx, host.SessionID())
	if err != nil {
		log.Warn("greeting failed", "err", err)
		return
	}
	if !rep.HasAudio() {
		log.Warn("greeting has no audio")
		return
	}
	if err := host.Speak(ctx, speechFromReply(rep)); err != nil {
		log.Warn("greeting playback failed", "err", err)
	}
}

// HandleChunk runs one record, transcribe, respond, play turn.
func (b *Batched) HandleChunk(ctx context.Context, c audio.Chunk) error {
	start := time.Now()
	text, err := transcribe(ctx, b.cfg, c)
	if err != nil || text == "" {
		return err
	}
	b.host.Transcribed(text)

	rep, err := b.cfg.Responder.Respond(ctx, backend.Request{UtteranceText: text, SessionID: b.host.SessionID()})
	if err != nil {
		return fmt.Errorf("turn: respond: %w", err)
	}
	if err := b.host.Speak(ctx, speechFromReply(rep)); err != nil {
		return fmt.Errorf("turn: speak: %w", err)
	}
	b.cfg.Metrics.RecordTurn(ctx, string(b.mode), time.Since(start))
	return nil
}

// HandleMessage ignores transport traffic; batched sessions have no stream.
func (b *Batched) HandleMessage(ctx context.Context, m transport.Message) error {
	observe.Logger(ctx).Debug("batched processor ignoring transport message", "type", string(m.Type))
	return nil
}

// Close releases per-session responder state.
func (b *Batched) Close() error {
	b.closeOnce.Do(func() {
		backend.End(b.cfg.Responder, b.host.SessionID())
	})
	return nil
}

// transcribe returns the chunk's text, or "" when the chunk is empty, below
// the silence gate, or holds no speech.
func transcribe(ctx context.Context, cfg BatchedConfig, c audio.Chunk) (string, error) {
	log := observe.Logger(ctx)
	if c.Empty() {
		log.Debug("skipping empty chunk")
		return "", nil
	}
	if cfg.SilenceRMS > 0 && audio.RMS(c.Data) < cfg.SilenceRMS {
		log.Debug("skipping silent chunk", "rms", audio.RMS(c.Data))
		return "", nil
	}
	if cfg.SampleRate > 0 && (c.SampleRate != cfg.SampleRate || c.Channels != 1) {
		c = audio.ConvertChunk(c, audio.Format{SampleRate: cfg.SampleRate, Channels: 1})
	}

	ctx, span := observe.StartSpan(ctx, "turn.transcribe")
	defer span.End()
	tr, err := cfg.STT.Transcribe(ctx, stt.Request{Audio: c, Language: cfg.Language})
	if errors.Is(err, stt.ErrEmptyAudio) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("turn: transcribe: %w", err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		log.Debug("no speech in chunk", "duration", c.Duration())
	}
	return text, nil
}
