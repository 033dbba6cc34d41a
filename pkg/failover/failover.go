// Package failover implements the provider-failover controller shared
// by the STT and LLM provider lists: health-aware
// routing over an ordered provider list using a "try, classify the
// error, advance" loop, so a single blocked or erroring provider
// doesn't stall the whole pipeline.
package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lokutor-ai/stream-commentator/pkg/logging"
	"github.com/lokutor-ai/stream-commentator/pkg/metrics"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// ErrAllProvidersFailed is returned when every provider in the list was
// tried and none produced a result.
var ErrAllProvidersFailed = fmt.Errorf("all providers failed")

// Provider is the constraint every provider kind the Controller can
// wrap must satisfy: a stable name plus a liveness probe.
type Provider interface {
	providers.Named
	providers.HealthChecker
}

// entry tracks one provider's health state.
type entry[P Provider] struct {
	provider    P
	healthy     bool
	lastChecked time.Time
}

// Controller routes execute() calls to the first healthy provider in
// an ordered list, falling over to the next on a retryable error.
// Safe for concurrent use: executions share the health table but do not
// serialize on it.
type Controller[P Provider] struct {
	mu      sync.RWMutex
	entries []*entry[P]
	logger  logging.Logger
	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics bundle; nil disables instrumentation.
func (c *Controller[P]) SetMetrics(m *metrics.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// New builds a Controller over providers in priority order (first =
// highest priority). At least one provider is required.
func New[P Provider](logger logging.Logger, providerList ...P) (*Controller[P], error) {
	if len(providerList) == 0 {
		return nil, fmt.Errorf("failover: at least one provider is required")
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	entries := make([]*entry[P], len(providerList))
	for i, p := range providerList {
		entries[i] = &entry[P]{provider: p, healthy: true}
	}
	return &Controller[P]{entries: entries, logger: logger}, nil
}

// Execute runs op against the first healthy provider, advancing to the
// next on a retryable error. A fatal (non-retryable) error propagates
// immediately without trying subsequent providers. Each provider is
// invoked at most once per call.
func (c *Controller[P]) Execute(ctx context.Context, op func(ctx context.Context, p P) error) error {
	c.mu.RLock()
	order := make([]*entry[P], len(c.entries))
	copy(order, c.entries)
	c.mu.RUnlock()

	// Healthy providers first, in original priority order; unhealthy
	// ones follow so a total outage still gets one pass over everyone.
	var candidates []*entry[P]
	for _, e := range order {
		if e.snapshotHealthy() {
			candidates = append(candidates, e)
		}
	}
	for _, e := range order {
		if !e.snapshotHealthy() {
			candidates = append(candidates, e)
		}
	}

	c.mu.RLock()
	m := c.metrics
	c.mu.RUnlock()

	var lastErr error
	for _, e := range candidates {
		err := op(ctx, e.provider)
		if m != nil {
			m.FailoverRequests.Add(ctx, 1, metric.WithAttributes(
				attribute.String("provider", e.provider.Name()),
				attribute.Bool("success", err == nil),
			))
		}
		if err == nil {
			e.setHealthy(true)
			return nil
		}

		if !providers.IsRetryable(err) {
			c.logger.Error("failover: fatal provider error", "provider", e.provider.Name(), "error", err)
			return err
		}

		c.logger.Warn("failover: retryable provider error, advancing", "provider", e.provider.Name(), "error", err)
		e.setHealthy(false)
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("%w: last error: %v", ErrAllProvidersFailed, lastErr)
	}
	return ErrAllProvidersFailed
}

func (e *entry[P]) snapshotHealthy() bool {
	return e.healthy
}

func (e *entry[P]) setHealthy(v bool) {
	e.healthy = v
	e.lastChecked = time.Now()
}

// HealthSnapshot reports the current view of the provider table, for
// status/observability callers.
type HealthSnapshot struct {
	Provider    string
	Healthy     bool
	LastChecked time.Time
}

// Health returns a point-in-time snapshot of every provider's health.
func (c *Controller[P]) Health() []HealthSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HealthSnapshot, len(c.entries))
	for i, e := range c.entries {
		out[i] = HealthSnapshot{Provider: e.provider.Name(), Healthy: e.healthy, LastChecked: e.lastChecked}
	}
	return out
}

// RunHealthProbe starts a goroutine that reprobes every provider's
// Healthy() on the given interval, resetting its flag when it reports
// healthy again. It returns a stop function; cancelling ctx also stops
// the loop. The interval is a plain parameter rather than a hardcoded
// constant so callers can use a short interval in tests and a longer
// one in production.
func (c *Controller[P]) RunHealthProbe(ctx context.Context, interval time.Duration) func() {
	probeCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-probeCtx.Done():
				return
			case <-ticker.C:
				c.probeOnce(probeCtx)
			}
		}
	}()
	return cancel
}

func (c *Controller[P]) probeOnce(ctx context.Context) {
	c.mu.RLock()
	snapshot := make([]*entry[P], len(c.entries))
	copy(snapshot, c.entries)
	m := c.metrics
	c.mu.RUnlock()

	for _, e := range snapshot {
		healthy := e.provider.Healthy(ctx)
		if healthy != e.snapshotHealthy() {
			e.setHealthy(healthy)
			c.logger.Info("failover: health changed", "provider", e.provider.Name(), "healthy", healthy)
			if m != nil {
				m.FailoverHealthChanges.Add(ctx, 1, metric.WithAttributes(
					attribute.String("provider", e.provider.Name()),
					attribute.Bool("healthy", healthy),
				))
			}
		}
	}
}

// BackoffSchedule builds the exponential backoff used by reconnecting
// streams (STTPipeline) with a base delay and a hard cap on the
// interval between attempts.
func BackoffSchedule(base, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxDelay
	b.Multiplier = 2.0
	return b
}
