// Package observe provides MedLingo's observability primitives:
// OpenTelemetry metrics and tracing, trace-aware logging, and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped from
// /metrics through the Prometheus exporter installed by [InitProvider]. Tests
// should build their own [Metrics] with [NewMetrics] and a manual reader
// instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/medlingo/pkg/language"
)

// meterName is the instrumentation scope name used for all MedLingo metrics.
const meterName = "github.com/MrWong99/medlingo"

// Translation outcomes recorded on [Metrics.TranslationRequests].
const (
	StatusOK           = "ok"
	StatusCached       = "cached"
	StatusInvalid      = "invalid"
	StatusUnconfigured = "unconfigured"
	StatusRateLimited  = "rate_limited"
	StatusError        = "error"
)

// Metrics holds all OpenTelemetry instruments for the application.
type Metrics struct {
	// TranslationDuration tracks upstream model latency for cache misses.
	TranslationDuration metric.Float64Histogram

	// TranslationRequests counts gateway requests. Attributes:
	//   attribute.String("status", ...), attribute.String("source", ...), attribute.String("target", ...)
	TranslationRequests metric.Int64Counter

	// StoreOperations counts room store calls. Attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreOperations metric.Int64Counter

	// TurnsAppended counts durable turns accepted by the store.
	TurnsAppended metric.Int64Counter

	// ActiveRooms tracks rooms that were created and not yet ended.
	ActiveRooms metric.Int64UpDownCounter

	// ActiveSubscriptions tracks open WebSocket push subscriptions. Attribute:
	//   attribute.String("topic", ...)
	ActiveSubscriptions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Hosted models answer in
// the sub-second to tens-of-seconds range.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranslationDuration, err = m.Float64Histogram("medlingo.translation.duration",
		metric.WithDescription("Latency of upstream translation calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslationRequests, err = m.Int64Counter("medlingo.translation.requests",
		metric.WithDescription("Translation gateway requests by outcome and language pair."),
	); err != nil {
		return nil, err
	}
	if met.StoreOperations, err = m.Int64Counter("medlingo.store.operations",
		metric.WithDescription("Room store operations by name and status."),
	); err != nil {
		return nil, err
	}
	if met.TurnsAppended, err = m.Int64Counter("medlingo.turns.appended",
		metric.WithDescription("Durable conversation turns accepted by the store."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRooms, err = m.Int64UpDownCounter("medlingo.active_rooms",
		metric.WithDescription("Rooms created and not yet ended."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscriptions, err = m.Int64UpDownCounter("medlingo.active_subscriptions",
		metric.WithDescription("Open push subscriptions by topic."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("medlingo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// DefaultMetrics returns the package-level [Metrics] instance built from
// [otel.GetMeterProvider] on first use. It panics if instrument creation
// fails, which does not happen with the global provider.
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

// languageOther replaces codes outside the catalogue on metric attributes.
const languageOther = "other"

// RecordTranslation increments the translation request counter. Language
// codes outside the catalogue are recorded as "other".
func (m *Metrics) RecordTranslation(ctx context.Context, status, source, target string) {
	m.TranslationRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("source", languageLabel(source)),
			attribute.String("target", languageLabel(target)),
		),
	)
}

func languageLabel(code string) string {
	if language.Known(code) {
		return code
	}
	return languageOther
}

// RecordStoreOp increments the store operation counter. A nil err records
// status "ok", anything else "error".
func (m *Metrics) RecordStoreOp(ctx context.Context, op string, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.StoreOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}
