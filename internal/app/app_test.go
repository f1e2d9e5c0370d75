package app_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callpilot/internal/app"
	"github.com/MrWong99/callpilot/internal/call"
	"github.com/MrWong99/callpilot/internal/calllog"
	"github.com/MrWong99/callpilot/internal/config"
	"github.com/MrWong99/callpilot/internal/turn"
	audiomock "github.com/MrWong99/callpilot/pkg/audio/mock"
	telmock "github.com/MrWong99/callpilot/pkg/telephony/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type recordingConn struct {
	mu       sync.Mutex
	subjects []string
}

func (c *recordingConn) Publish(subject string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subjects)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Call:   config.CallConfig{Mode: turn.ModeBatched, PollInterval: time.Hour},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{
		app.WithSource(&telmock.Source{}),
		app.WithDevice(audiomock.NewDevice()),
		app.WithStore(calllog.NewMemoryStore()),
	}
	a, err := app.New(t.Context(), cfg, nil, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func runApp(t *testing.T, a *app.App) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, c := context.WithCancel(t.Context())
	ch := make(chan error, 1)
	go func() { ch <- a.Run(ctx) }()
	t.Cleanup(c)
	return c, ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── routes ──────────────────────────────────────────────────────────────────

func TestRoutes_Health(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	if rec := get(t, a.Handler(), "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("/healthz = %d", rec.Code)
	}
	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("/readyz = %d: %s", rec.Code, rec.Body)
	}
}

func TestRoutes_ReadyzWithoutHandset(t *testing.T) {
	t.Parallel()

	// No injected source or device: the handset bridge is used and nothing
	// is attached to it.
	a, err := app.New(t.Context(), testConfig(t), nil, app.WithStore(calllog.NewMemoryStore()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz = %d, want 503", rec.Code)
	}
}

func TestRoutes_Snapshot(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	rec := get(t, a.Handler(), "/v1/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var s call.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.CallState != call.StateIdle || s.Mode != turn.ModeBatched {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestRoutes_Calls(t *testing.T) {
	t.Parallel()

	store := calllog.NewMemoryStore()
	if err := store.SaveCall(t.Context(), call.CallRecord{ID: "c1", StartedAt: time.Now(), Mode: turn.ModeBatched}); err != nil {
		t.Fatal(err)
	}
	a := newApp(t, testConfig(t), app.WithStore(store))

	rec := get(t, a.Handler(), "/v1/calls/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}

	if rec := get(t, a.Handler(), "/v1/calls/missing/turns"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown call turns = %d, want 404", rec.Code)
	}
}

func TestNew_StreamingWithoutTransportFailsLater(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Call.Mode = turn.ModeStreaming
	// The factory is built without a transport; New must still succeed so
	// a reload can fix the mode.
	newApp(t, cfg)
}

// ─── Run / Reload ────────────────────────────────────────────────────────────

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	conn := &recordingConn{}
	a := newApp(t, testConfig(t), app.WithStatePublisher(conn))
	cancel, done := runApp(t, a)

	waitFor(t, "initial snapshot published", func() bool { return conn.count() > 0 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReload_AppliesCallSettings(t *testing.T) {
	t.Parallel()

	old := testConfig(t)
	a := newApp(t, old)
	runApp(t, a)

	updated := testConfig(t)
	updated.Call.Mode = turn.ModeDual
	a.Reload(old, updated)

	waitFor(t, "mode switched", func() bool { return a.Orchestrator().Snapshot().Mode == turn.ModeDual })
}

func TestReload_ChangesLogLevel(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	old := testConfig(t)
	a := newApp(t, old, app.WithLogLevel(&lv))

	updated := testConfig(t)
	updated.Server.LogLevel = config.LogDebug
	a.Reload(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", lv.Level())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	if err := a.Shutdown(t.Context()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(t.Context()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := a.Shutdown(ctx); err == nil {
		t.Fatal("Shutdown with cancelled context should report it")
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.Level(tt.in); got != tt.want {
			t.Errorf("Level(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
