// Package observe provides the observability primitives shared by callpilot:
// OpenTelemetry metrics, tracing helpers, trace-aware structured logging and
// HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. A package-level [DefaultMetrics]
// instance is available for production wiring; tests should build their own
// with [NewMetrics] and a private [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callpilot metrics.
const meterName = "github.com/MrWong99/callpilot"

// Metrics holds every metric instrument used by callpilot. All fields are
// safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderDuration tracks STT/LLM/TTS/backend call latency. Attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderDuration metric.Float64Histogram

	// TurnDuration tracks one full caller-utterance-to-reply cycle. Attribute:
	//   attribute.String("mode", ...)
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// CallsTotal counts detected calls by outcome ("completed", "ai_failed").
	CallsTotal metric.Int64Counter

	// ChunksTotal counts audio chunks handed to a turn processor. Attribute:
	//   attribute.String("mode", ...)
	ChunksTotal metric.Int64Counter

	// AnswerAttempts counts answer commands by status.
	AnswerAttempts metric.Int64Counter

	// TransportReconnects counts transport connect attempts by status.
	TransportReconnects metric.Int64Counter

	// ProviderRequests counts provider API calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls is 1 while a call session is in progress.
	ActiveCalls metric.Int64UpDownCounter
}

// latencyBuckets are histogram bucket boundaries (seconds) tuned for voice
// round trips.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProviderDuration, err = m.Float64Histogram("callpilot.provider.duration",
		metric.WithDescription("Latency of STT, LLM, TTS and backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("callpilot.turn.duration",
		metric.WithDescription("Latency from chunk hand-off to end of assistant playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("callpilot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.CallsTotal, err = m.Int64Counter("callpilot.calls.total",
		metric.WithDescription("Calls handled, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ChunksTotal, err = m.Int64Counter("callpilot.chunks.total",
		metric.WithDescription("Audio chunks handed to a turn processor."),
	); err != nil {
		return nil, err
	}
	if met.AnswerAttempts, err = m.Int64Counter("callpilot.answer.attempts",
		metric.WithDescription("Answer commands issued, by status."),
	); err != nil {
		return nil, err
	}
	if met.TransportReconnects, err = m.Int64Counter("callpilot.transport.reconnects",
		metric.WithDescription("Transport connect attempts, by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callpilot.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callpilot.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("callpilot.calls.active",
		metric.WithDescription("Number of call sessions currently in progress."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] built from
// [otel.GetMeterProvider]. It panics if instrument creation fails, which does
// not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// status maps an error to the "ok"/"error" status attribute value.
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordProviderCall records request count, latency and (on failure) the
// error counter for one provider call that started at start.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	)
	m.ProviderDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status(err)),
	))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, attrs)
	}
}

// RecordChunk counts one chunk handed to a processor in the given mode.
func (m *Metrics) RecordChunk(ctx context.Context, mode string) {
	m.ChunksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordTurn records the duration of one completed turn.
func (m *Metrics) RecordTurn(ctx context.Context, mode string, d time.Duration) {
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordAnswer counts an answer command.
func (m *Metrics) RecordAnswer(ctx context.Context, err error) {
	m.AnswerAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status(err))))
}

// RecordReconnect counts one transport connect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, attempt int, err error) {
	m.TransportReconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status(err)),
		attribute.Int("attempt", attempt),
	))
}

// CallStarted increments the active-call gauge.
func (m *Metrics) CallStarted(ctx context.Context) {
	m.ActiveCalls.Add(ctx, 1)
}

// CallEnded decrements the active-call gauge and counts the call by outcome.
func (m *Metrics) CallEnded(ctx context.Context, outcome string) {
	m.ActiveCalls.Add(ctx, -1)
	m.CallsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
