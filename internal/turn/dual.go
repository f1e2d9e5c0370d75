package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callpilot/internal/backend"
	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/pkg/audio"
)

// Dual is a batched processor that asks two responders at once: a fast
// interim endpoint that fills the silence, and the final endpoint whose
// answer always plays.
//
// The first reply ready plays first. When the interim wins, the final plays
// right after it. When the final wins, the interim is discarded. Only one
// reply plays at a time.
type Dual struct {
	host    Host
	cfg     BatchedConfig
	interim backend.Responder

	closeOnce sync.Once
}

var _ Processor = (*Dual)(nil)

// NewDual returns a dual-endpoint processor. cfg.Responder is the final
// endpoint.
func NewDual(host Host, cfg BatchedConfig, interim backend.Responder) (*Dual, error) {
	err := cfg.validate()
	if interim == nil {
		err = errors.Join(err, errors.New("turn: dual processor needs an interim responder"))
	}
	if err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Dual{host: host, cfg: cfg, interim: interim}, nil
}

// Start speaks the final endpoint's greeting.
func (d *Dual) Start(ctx context.Context) error {
	greet(ctx, d.host, d.cfg.Responder)
	return nil
}

type dualResult struct {
	final bool
	reply backend.Reply
	err   error
}

// HandleChunk transcribes the chunk and races both endpoints.
func (d *Dual) HandleChunk(ctx context.Context, c audio.Chunk) error {
	start := time.Now()
	text, err := transcribe(ctx, d.cfg, c)
	if err != nil || text == "" {
		return err
	}
	d.host.Transcribed(text)
	log := observe.Logger(ctx)

	req := backend.Request{UtteranceText: text, SessionID: d.host.SessionID()}
	// Returning early abandons whatever request is still running.
	reqCtx, cancelReqs := context.WithCancel(ctx)
	interimCtx, cancelInterim := context.WithCancel(reqCtx)
	defer cancelInterim()

	results := make(chan dualResult, 2)
	var g errgroup.Group
	g.Go(func() error {
		rep, err := d.interim.Respond(interimCtx, req)
		results <- dualResult{reply: rep, err: err}
		return nil
	})
	g.Go(func() error {
		rep, err := d.cfg.Responder.Respond(reqCtx, req)
		results <- dualResult{final: true, reply: rep, err: err}
		return nil
	})
	defer func() {
		cancelReqs()
		_ = g.Wait()
	}()

	var (
		finalPlayed   bool
		interimPlayed bool
		finalErr      error
	)
	for range 2 {
		r := <-results
		switch {
		case r.final && r.err != nil:
			finalErr = r.err
		case r.final:
			cancelInterim()
			if err := d.host.Speak(ctx, speechFromReply(r.reply)); err != nil {
				return fmt.Errorf("turn: speak final: %w", err)
			}
			finalPlayed = true
		case finalPlayed:
			log.Debug("discarding interim reply, final already played")
		case r.err != nil:
			log.Warn("interim responder failed", "err", r.err)
		default:
			if err := d.host.Speak(ctx, speechFromReply(r.reply)); err != nil {
				return fmt.Errorf("turn: speak interim: %w", err)
			}
			interimPlayed = true
		}
	}

	if finalErr != nil {
		if !interimPlayed {
			return fmt.Errorf("turn: respond: %w", finalErr)
		}
		log.Warn("final responder failed after interim played", "err", finalErr)
	}
	d.cfg.Metrics.RecordTurn(ctx, string(ModeDual), time.Since(start))
	return nil
}

// HandleMessage ignores transport traffic.
func (d *Dual) HandleMessage(context.Context, transport.Message) error { return nil }

// Close releases per-session state on both endpoints.
func (d *Dual) Close() error {
	d.closeOnce.Do(func() {
		backend.End(d.cfg.Responder, d.host.SessionID())
		backend.End(d.interim, d.host.SessionID())
	})
	return nil
}
