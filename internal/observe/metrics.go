// Package observe provides OpenTelemetry metrics, tracing, trace-aware
// logging and HTTP middleware for the tutor service.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to a
// Prometheus registry by [InitProvider] so they can be scraped from /metrics.
// Tests should build their own [Metrics] with [NewMetrics] and a manual
// reader rather than touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every instrument in this service.
const meterName = "github.com/MrWong99/parley"

// Metrics holds the OpenTelemetry instruments for the application.
type Metrics struct {
	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// TranscodeDuration tracks container conversion latency. Attributes:
	// "from", "to".
	TranscodeDuration metric.Float64Histogram

	// CycleDuration tracks the wall time of a full session cycle. Attributes:
	// "mode", "status".
	CycleDuration metric.Float64Histogram

	// ProviderRequests counts remote calls. Attributes: "provider", "kind", "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed remote calls. Attributes: "provider", "kind".
	ProviderErrors metric.Int64Counter

	// Cycles counts session cycles. Attributes: "mode", "status".
	Cycles metric.Int64Counter

	// RoundsCompleted counts finished shadowing and dictation rounds. Attribute: "mode".
	RoundsCompleted metric.Int64Counter

	// Notices counts non-fatal degradations such as a missing transcoder.
	// Attribute: "notice".
	Notices metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// "provider", "to".
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks the number of sessions held in memory.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP handling time. Attributes: "method",
	// "route", "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Remote speech calls
// routinely take several seconds, so the tail reaches 30s.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

type histogramSpec struct {
	dst  *metric.Float64Histogram
	name string
	desc string
}

type counterSpec struct {
	dst  *metric.Int64Counter
	name string
	desc string
}

// NewMetrics creates every instrument using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	for _, h := range []histogramSpec{
		{&met.STTDuration, "parley.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "parley.llm.duration", "Latency of chat completion."},
		{&met.TTSDuration, "parley.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.TranscodeDuration, "parley.transcode.duration", "Latency of audio container conversion."},
		{&met.CycleDuration, "parley.session.cycle.duration", "Wall time of one session cycle."},
	} {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	for _, c := range []counterSpec{
		{&met.ProviderRequests, "parley.provider.requests", "Remote provider requests by provider, kind and status."},
		{&met.ProviderErrors, "parley.provider.errors", "Remote provider errors by provider and kind."},
		{&met.Cycles, "parley.session.cycles", "Session cycles by mode and resulting status."},
		{&met.RoundsCompleted, "parley.session.rounds_completed", "Completed shadowing and dictation rounds."},
		{&met.Notices, "parley.notices", "Non-fatal degradations reported to the learner."},
		{&met.BreakerTransitions, "parley.breaker.transitions", "Circuit breaker state changes."},
	} {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of sessions held in memory."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] bound to
// [otel.GetMeterProvider], creating it on first use.
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

// RecordProviderRequest counts one remote call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordProviderError counts one failed remote call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind),
	))
}

// RecordCycle counts a finished session cycle and its duration.
func (m *Metrics) RecordCycle(ctx context.Context, mode, status string, seconds float64) {
	attrs := metric.WithAttributes(Attr("mode", mode), Attr("status", status))
	m.Cycles.Add(ctx, 1, attrs)
	m.CycleDuration.Record(ctx, seconds, attrs)
}

// RecordRound counts a completed practice round.
func (m *Metrics) RecordRound(ctx context.Context, mode string) {
	m.RoundsCompleted.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode)))
}

// RecordNotice counts a degradation notice.
func (m *Metrics) RecordNotice(ctx context.Context, notice string) {
	m.Notices.Add(ctx, 1, metric.WithAttributes(Attr("notice", notice)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("to", to),
	))
}
