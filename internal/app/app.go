// Package app wires the callpilot subsystems into a running server.
//
// New builds every subsystem from the config, Run serves HTTP and drives the
// call orchestrator until the context ends, and Shutdown releases what New
// acquired. Tests inject doubles through the functional options.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callpilot/internal/backend"
	"github.com/MrWong99/callpilot/internal/bridge"
	"github.com/MrWong99/callpilot/internal/call"
	"github.com/MrWong99/callpilot/internal/calllog"
	"github.com/MrWong99/callpilot/internal/config"
	"github.com/MrWong99/callpilot/internal/health"
	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/statefeed"
	"github.com/MrWong99/callpilot/internal/transport"
	"github.com/MrWong99/callpilot/internal/turn"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/provider/llm"
	"github.com/MrWong99/callpilot/pkg/provider/stt"
	"github.com/MrWong99/callpilot/pkg/provider/tts"
	"github.com/MrWong99/callpilot/pkg/telephony"
)

const (
	readHeaderTimeout = 10 * time.Second
	serverStopTimeout = 5 * time.Second
)

// Providers holds the pipeline providers. Nil means not configured.
// Populated by main via the config registry.
type Providers struct {
	STT     stt.Provider
	LLM     llm.Provider
	FastLLM llm.Provider
	TTS     tts.Provider
}

// App owns the lifetime of every subsystem.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	bridge  *bridge.Bridge
	source  telephony.Source
	device  audio.Device
	factory turn.Factory
	store   calllog.Store
	writer  *calllog.Writer
	nats    statefeed.Conn
	orch    *call.Orchestrator

	metricsHandler http.Handler
	checkers       []health.Checker
	router         chi.Router
	server         *http.Server

	// closers run last-in first-out during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures New. Use these to inject test doubles.
type Option func(*App)

// WithSource replaces the device bridge as the telephony source.
func WithSource(s telephony.Source) Option {
	return func(a *App) { a.source = s }
}

// WithDevice replaces the device bridge as the audio device.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithFactory replaces the processor factory built from the providers.
func WithFactory(f turn.Factory) Option {
	return func(a *App) { a.factory = f }
}

// WithStore replaces the call log store chosen from storage.postgres_dsn.
func WithStore(s calllog.Store) Option {
	return func(a *App) { a.store = s }
}

// WithStatePublisher publishes snapshots on conn instead of dialling
// statefeed.nats_url.
func WithStatePublisher(conn statefeed.Conn) Option {
	return func(a *App) { a.nats = conn }
}

// WithMetrics sets the instruments used by every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the level of the installed
// handler.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the application. It connects to Postgres and NATS when they
// are configured; everything else is started by [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init call log: %w", err)
	}
	a.initDevice()
	if a.factory == nil {
		f, err := a.buildFactory()
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: build processors: %w", err)
		}
		a.factory = f
	}

	orch, err := call.New(callConfig(cfg), call.Deps{
		Source:  a.source,
		Device:  a.device,
		Factory: a.factory,
		Sink:    a.writer,
		Metrics: a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	a.orch = orch

	if err := a.initStateFeed(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init state feed: %w", err)
	}

	a.router = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
			pg, err := calllog.NewPostgresStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = pg
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			slog.Info("call log connected to postgres")
		} else {
			a.store = calllog.NewMemoryStore()
		}
	}
	if p, ok := a.store.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("postgres", p))
	}
	a.writer = calllog.NewWriter(a.store)
	a.closers = append(a.closers, a.writer.Close)
	return nil
}

// initDevice creates the handset bridge for whichever of source and device
// was not injected.
func (a *App) initDevice() {
	if a.source != nil && a.device != nil {
		return
	}
	d := a.cfg.Device
	a.bridge = bridge.New(bridge.Config{
		Capture:        audio.Format{SampleRate: d.SampleRate, Channels: d.Channels},
		AuthToken:      d.AuthToken,
		RequestTimeout: d.RequestTimeout,
		PlaybackTail:   d.PlaybackTail,
	})
	if a.source == nil {
		a.source = a.bridge
	}
	if a.device == nil {
		a.device = a.bridge
	}
	a.checkers = append(a.checkers, health.DeviceConnected(a.bridge.Connected))
}

func (a *App) initStateFeed() error {
	if a.nats == nil && a.cfg.StateFeed.NATSURL != "" {
		nc, err := statefeed.ConnectNATS(a.cfg.StateFeed.NATSURL, a.cfg.StateFeed.NATSToken, slog.Default())
		if err != nil {
			return err
		}
		a.nats = nc
		a.checkers = append(a.checkers, health.NATS(nc))
		a.closers = append(a.closers, nc.Drain)
	}
	return nil
}

// ─── processors ──────────────────────────────────────────────────────────────

// buildFactory assembles the turn processors from whatever is configured.
// A mode whose collaborators are missing fails when a session starts, so a
// reload can switch modes without a restart.
func (a *App) buildFactory() (turn.Factory, error) {
	cfg := a.cfg
	deps := turn.Deps{
		Batched: turn.BatchedConfig{
			STT:        a.providers.STT,
			SampleRate: audio.DefaultSampleRate,
			SilenceRMS: cfg.Call.SilenceRMS,
			Language:   cfg.Call.Language,
			Metrics:    a.metrics,
		},
	}

	final, interim, err := a.buildResponders()
	if err != nil {
		return nil, err
	}
	deps.Batched.Responder = final
	deps.Interim = interim

	if cfg.Transport.URL != "" {
		tc := transportConfig(cfg, a.metrics)
		deps.NewTransport = func(h transport.Handler) transport.Client {
			return transport.NewSession(tc, h)
		}
	}
	return turn.NewFactory(deps), nil
}

func (a *App) buildResponders() (final, interim backend.Responder, err error) {
	b := a.cfg.Backend
	switch b.Kind {
	case config.BackendRemote:
		if b.RemoteURL != "" {
			if final, err = backend.NewRemote(b.RemoteURL, backend.WithAuthToken(b.RemoteToken), backend.WithMetrics(a.metrics)); err != nil {
				return nil, nil, err
			}
		}
		if b.InterimURL != "" {
			if interim, err = backend.NewRemote(b.InterimURL, backend.WithAuthToken(b.RemoteToken), backend.WithMetrics(a.metrics)); err != nil {
				return nil, nil, err
			}
		}
	default:
		p := a.providers
		if p.LLM != nil && p.TTS != nil {
			if final, err = backend.NewPipeline(p.LLM, p.TTS, pipelineConfig(b, a.cfg.Providers.LLM.Model)); err != nil {
				return nil, nil, err
			}
		}
		if p.FastLLM != nil && p.TTS != nil {
			if interim, err = backend.NewPipeline(p.FastLLM, p.TTS, pipelineConfig(b, a.cfg.Providers.FastLLM.Model)); err != nil {
				return nil, nil, err
			}
		}
	}
	return final, interim, nil
}

func pipelineConfig(b config.BackendConfig, model string) backend.PipelineConfig {
	return backend.PipelineConfig{
		SystemPrompt:   b.SystemPrompt,
		Greeting:       b.Greeting,
		Voice:          b.Voice,
		HistoryTokens:  b.HistoryTokens,
		Model:          model,
		MaxReplyTokens: b.MaxReplyTokens,
		Temperature:    b.Temperature,
	}
}

func transportConfig(cfg *config.Config, m *observe.Metrics) transport.Config {
	t := cfg.Transport
	var header http.Header
	if t.AuthToken != "" {
		header = http.Header{"Authorization": {"Bearer " + t.AuthToken}}
	}
	return transport.Config{
		URL:          t.URL,
		Header:       header,
		MaxAttempts:  t.MaxReconnectAttempts,
		Backoff:      t.ReconnectBackoff,
		DialTimeout:  t.DialTimeout,
		BinaryFormat: audio.Format{SampleRate: cfg.Device.SampleRate, Channels: cfg.Device.Channels},
		Metrics:      m,
	}
}

// callConfig maps the call and device sections onto the orchestrator.
func callConfig(cfg *config.Config) call.Config {
	c := cfg.Call
	return call.Config{
		Mode:               c.Mode,
		AutoAnswer:         c.AutoAnswerEnabled(),
		PollInterval:       c.PollInterval,
		ChunkInterval:      c.ChunkInterval,
		AnswerSettleDelay:  c.AnswerSettleDelay,
		IncomingTimeout:    c.IncomingTimeout,
		HistoryLimit:       c.HistoryLimit,
		Capture:            audio.Format{SampleRate: cfg.Device.SampleRate, Channels: cfg.Device.Channels},
		PlaybackFrameBytes: cfg.Device.FrameBytes,
	}
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

func (a *App) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	health.New(a.checkers...).Register(r)
	if a.metricsHandler != nil {
		r.Handle("/metrics", a.metricsHandler)
	}
	if a.bridge != nil {
		r.Handle("/v1/device", a.bridge)
	}
	r.Handle("/v1/state", statefeed.NewHandler(a.orch))
	r.Get("/v1/snapshot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.orch.Snapshot())
	})
	r.Mount("/v1/calls", calllog.Routes(a.store))
	return r
}

// Handler returns the HTTP routes.
func (a *App) Handler() http.Handler { return a.router }

// Orchestrator returns the call orchestrator.
func (a *App) Orchestrator() *call.Orchestrator { return a.orch }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, drives the orchestrator and publishes state until ctx
// ends or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.orch.Run(gctx) })

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverStopTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	if a.nats != nil {
		pub := statefeed.NewPublisher(a.nats, a.cfg.StateFeed.Subject)
		g.Go(func() error { return pub.Run(gctx, a.orch) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Reload applies a changed config file. Call settings reach the next
// session; sections read only at startup are logged.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.CallChanged {
		a.orch.UpdateConfig(callConfig(new))
		slog.Info("call settings reloaded", "mode", string(new.Call.Mode), "chunk_interval", new.Call.ChunkInterval)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(Level(d.NewLogLevel))
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Level maps a config log level onto slog.
func Level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases subsystems in reverse order of creation. Closers left
// when ctx expires are skipped and ctx's error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll unwinds a partially built App.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
