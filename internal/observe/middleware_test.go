package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// These tests swap the global tracer provider and must not run in parallel.

type harness struct {
	router chi.Router
	reader *sdkmetric.ManualReader
	spans  *tracetest.InMemoryExporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	r := chi.NewRouter()
	r.Use(Middleware(m))
	return &harness{router: r, reader: reader, spans: exp}
}

func (h *harness) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) onlySpan(t *testing.T) tracetest.SpanStub {
	t.Helper()
	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0]
}

// ─── tracing ────────────────────────────────────────────────────────────────

func TestMiddleware_CorrelationID(t *testing.T) {
	h := newHarness(t)
	var inHandler string
	h.router.Get("/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
	})

	rec := h.get("/v1/snapshot", nil)
	if len(inHandler) != 32 {
		t.Fatalf("correlation ID %q is not a trace ID", inHandler)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inHandler)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h := newHarness(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inHandler string
	h.router.Get("/v1/calls", func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
	})

	rec := h.get("/v1/calls", http.Header{"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"}})
	if inHandler != traceID || rec.Header().Get("X-Correlation-ID") != traceID {
		t.Fatalf("handler saw %q, header %q, want %q", inHandler, rec.Header().Get("X-Correlation-ID"), traceID)
	}
}

func TestMiddleware_SpanUsesRoutePatternAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"ok", http.StatusOK},
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.router.Get("/v1/calls/{id}/turns", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			if rec := h.get("/v1/calls/c-42/turns", nil); rec.Code != tt.status {
				t.Fatalf("status = %d", rec.Code)
			}
			span := h.onlySpan(t)
			if span.Name != "HTTP GET /v1/calls/{id}/turns" {
				t.Errorf("span name = %q", span.Name)
			}
			var status int64
			for _, a := range span.Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != int64(tt.status) {
				t.Errorf("status attribute = %d, want %d", status, tt.status)
			}
		})
	}
}

// ─── metrics ────────────────────────────────────────────────────────────────

func TestMiddleware_DurationKeyedByRoute(t *testing.T) {
	h := newHarness(t)
	h.router.Get("/v1/calls/{id}/turns", func(http.ResponseWriter, *http.Request) {})

	h.get("/v1/calls/a/turns", nil)
	h.get("/v1/calls/b/turns", nil)

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "callpilot.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram missing")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %+v, want one series", met.Data)
	}
	dp := hist.DataPoints[0]
	path, _ := dp.Attributes.Value("path")
	if dp.Count != 2 || path.AsString() != "/v1/calls/{id}/turns" {
		t.Errorf("count = %d path = %q", dp.Count, path.AsString())
	}
}

// ─── websocket ──────────────────────────────────────────────────────────────

// The device bridge and state feed upgrade through the middleware.
func TestMiddleware_AllowsWebsocketUpgrade(t *testing.T) {
	h := newHarness(t)
	h.router.Get("/v1/state", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		_ = c.Write(r.Context(), websocket.MessageText, []byte("hello"))
		c.Close(websocket.StatusNormalClosure, "")
	})
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/state", nil)
	if err != nil {
		t.Fatalf("dial through middleware: %v", err)
	}
	defer c.CloseNow()
	_, data, err := c.Read(ctx)
	if err != nil || string(data) != "hello" {
		t.Fatalf("read = %q, %v", data, err)
	}
}
