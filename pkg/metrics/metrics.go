// Package metrics wires the pipeline's failover, moderation, rate
// limit, and scheduler components into an OpenTelemetry meter backed
// by a Prometheus exporter, so a /metrics endpoint can expose the
// running counters and latency histograms those components already
// track internally.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitProvider sets up the global MeterProvider with a Prometheus
// reader so metrics created against otel.Meter(name) are scraped
// through the standard /metrics exposition format. The returned
// shutdown func flushes and detaches the provider; call it from the
// process supervisor's cleanup registry.
func InitProvider(ctx context.Context, serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: build resource: %w", err)
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

// Metrics bundles the counters and histograms the pipeline's
// failover (C2), moderation (C8), rate limit (C9), and scheduler (C10)
// components publish.
type Metrics struct {
	FailoverHealthChanges metric.Int64Counter
	FailoverRequests      metric.Int64Counter

	ModerationRequests metric.Int64Counter
	ModerationFlagged  metric.Int64Counter
	ModerationFallback metric.Int64Counter
	ModerationLatency  metric.Float64Histogram

	RateLimitAllowed  metric.Int64Counter
	RateLimitRejected metric.Int64Counter

	SchedulerProcessed  metric.Int64Counter
	SchedulerFailed     metric.Int64Counter
	SchedulerQueueDepth metric.Int64UpDownCounter
}

// New builds a Metrics bundle from meter, instantiating every
// instrument once. Call sites hold the result for the process
// lifetime; instruments are safe for concurrent use.
func New(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.FailoverHealthChanges, err = meter.Int64Counter("failover.health_changes",
		metric.WithDescription("provider health transitions observed by a failover controller")); err != nil {
		return nil, err
	}
	if m.FailoverRequests, err = meter.Int64Counter("failover.requests",
		metric.WithDescription("provider operations attempted through a failover controller")); err != nil {
		return nil, err
	}

	if m.ModerationRequests, err = meter.Int64Counter("moderation.requests",
		metric.WithDescription("moderation calls issued")); err != nil {
		return nil, err
	}
	if m.ModerationFlagged, err = meter.Int64Counter("moderation.flagged",
		metric.WithDescription("moderation verdicts that flagged content")); err != nil {
		return nil, err
	}
	if m.ModerationFallback, err = meter.Int64Counter("moderation.fallback_used",
		metric.WithDescription("moderation calls that fell back to the secondary provider")); err != nil {
		return nil, err
	}
	if m.ModerationLatency, err = meter.Float64Histogram("moderation.latency_ms",
		metric.WithDescription("moderation call latency"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	if m.RateLimitAllowed, err = meter.Int64Counter("ratelimit.allowed",
		metric.WithDescription("comments cleared by the rate limiter")); err != nil {
		return nil, err
	}
	if m.RateLimitRejected, err = meter.Int64Counter("ratelimit.rejected",
		metric.WithDescription("comments rejected by the rate limiter, labeled by reason")); err != nil {
		return nil, err
	}

	if m.SchedulerProcessed, err = meter.Int64Counter("scheduler.processed",
		metric.WithDescription("scheduled comments posted successfully")); err != nil {
		return nil, err
	}
	if m.SchedulerFailed, err = meter.Int64Counter("scheduler.failed",
		metric.WithDescription("scheduled comments that exhausted retries")); err != nil {
		return nil, err
	}
	if m.SchedulerQueueDepth, err = meter.Int64UpDownCounter("scheduler.queue_depth",
		metric.WithDescription("items currently queued for posting")); err != nil {
		return nil, err
	}

	return &m, nil
}
