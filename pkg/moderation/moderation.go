package moderation

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/logging"
	"github.com/lokutor-ai/stream-commentator/pkg/metrics"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// Manager evaluates generated text against a SafetyPolicy, falling back
// to a secondary provider when the primary errors, and offers a
// single-attempt rewrite loop.
type Manager struct {
	mu       sync.Mutex
	primary  providers.ModerationProvider
	fallback providers.ModerationProvider
	policy   domain.SafetyPolicy
	logger   logging.Logger
	metrics  *metrics.Metrics

	stats Stats
}

// SetMetrics attaches a metrics bundle; nil disables instrumentation.
func (m *Manager) SetMetrics(metricsBundle *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metricsBundle
}

// Stats tracks the running moderation counters.
type Stats struct {
	TotalRequests    int64
	FlaggedCount     int64
	PrimaryFailures  int64
	FallbackUsages   int64
	avgLatencyMillis float64
}

// AvgLatencyMillis returns the moving-average latency of Moderate calls.
func (s Stats) AvgLatencyMillis() float64 { return s.avgLatencyMillis }

// New builds a Manager. fallback may be nil if no secondary provider is
// configured, in which case both-failed falls straight to the
// blockOnUncertainty synthetic verdict.
func New(primary, fallback providers.ModerationProvider, policy domain.SafetyPolicy, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Manager{primary: primary, fallback: fallback, policy: policy, logger: logger}
}

// SetPolicy atomically swaps the active SafetyPolicy.
func (m *Manager) SetPolicy(policy domain.SafetyPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
}

// Moderate invokes the primary provider, falls back on error, applies
// the threshold table, and computes a suggested action.
func (m *Manager) Moderate(ctx context.Context, text string, gctx *providers.GenerationContext) (domain.ModerationVerdict, error) {
	m.mu.Lock()
	policy := m.policy
	m.mu.Unlock()

	start := time.Now()
	verdict, err := m.moderateRaw(ctx, text, gctx, policy)
	elapsed := time.Since(start)
	m.recordLatency(elapsed)

	m.mu.Lock()
	m.stats.TotalRequests++
	if verdict.Flagged {
		m.stats.FlaggedCount++
	}
	metricsBundle := m.metrics
	m.mu.Unlock()

	if metricsBundle != nil {
		metricsBundle.ModerationRequests.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("flagged", verdict.Flagged)))
		metricsBundle.ModerationLatency.Record(ctx, float64(elapsed.Milliseconds()))
		if verdict.Flagged {
			metricsBundle.ModerationFlagged.Add(ctx, 1)
		}
	}

	return verdict, err
}

func (m *Manager) moderateRaw(ctx context.Context, text string, gctx *providers.GenerationContext, policy domain.SafetyPolicy) (domain.ModerationVerdict, error) {
	if !policy.Enabled {
		return domain.ModerationVerdict{SuggestedAction: domain.ActionApprove}, nil
	}

	verdict, err := m.primary.Moderate(ctx, text, gctx)
	if err != nil {
		m.mu.Lock()
		m.stats.PrimaryFailures++
		m.mu.Unlock()
		m.logger.Warn("moderation: primary failed, trying fallback", "provider", m.primary.Name(), "error", err)

		if m.fallback == nil {
			return m.uncertainVerdict(policy, "primary_failed_no_fallback"), nil
		}

		verdict, err = m.fallback.Moderate(ctx, text, gctx)
		if err != nil {
			m.logger.Error("moderation: fallback also failed", "provider", m.fallback.Name(), "error", err)
			return m.uncertainVerdict(policy, "both_providers_failed"), nil
		}
		m.mu.Lock()
		m.stats.FallbackUsages++
		metricsBundle := m.metrics
		m.mu.Unlock()
		if metricsBundle != nil {
			metricsBundle.ModerationFallback.Add(ctx, 1)
		}
	}

	thresholds := mergedThresholds(policy)
	return applyThresholds(verdict, thresholds), nil
}

func (m *Manager) uncertainVerdict(policy domain.SafetyPolicy, errTag string) domain.ModerationVerdict {
	action := domain.ActionApprove
	if policy.BlockOnUncertainty {
		action = domain.ActionBlock
	}
	return domain.ModerationVerdict{
		Flagged:         policy.BlockOnUncertainty,
		SuggestedAction: action,
		ErrorTag:        errTag,
	}
}

func mergedThresholds(policy domain.SafetyPolicy) domain.ThresholdTable {
	level := policy.Level
	if level == "" {
		level = domain.SafetyStandard
	}
	return BuildThresholds(level, policy.Thresholds)
}

// applyThresholds flags categories at/above their threshold and derives
// the suggested action from the single highest category score.
func applyThresholds(verdict domain.ModerationVerdict, thresholds domain.ThresholdTable) domain.ModerationVerdict {
	var flaggedCategories []domain.ModerationCategory
	maxScore := 0.0
	maxThreshold := 0.0
	flagged := false

	for _, cat := range domain.AllCategories {
		score := verdict.CategoryScores[cat]
		threshold, ok := thresholds[cat]
		if !ok {
			continue
		}
		if score >= threshold {
			flaggedCategories = append(flaggedCategories, cat)
			flagged = true
		}
		if score > maxScore {
			maxScore = score
			maxThreshold = threshold
		}
	}

	verdict.Flagged = flagged
	verdict.FlaggedCategories = flaggedCategories
	verdict.SuggestedAction = suggestedAction(maxScore, maxThreshold)
	return verdict
}

func suggestedAction(maxScore, threshold float64) domain.SuggestedAction {
	switch {
	case maxScore >= 0.8:
		return domain.ActionBlock
	case maxScore >= 0.6:
		return domain.ActionRewrite
	case threshold > 0 && maxScore >= threshold:
		return domain.ActionReview
	default:
		return domain.ActionApprove
	}
}

// ModerateAndRewrite runs a single-attempt rewrite loop: moderate, and
// if flagged, ask primary for one rewrite, then re-moderate the result.
func (m *Manager) ModerateAndRewrite(ctx context.Context, text, guidelines string, gctx *providers.GenerationContext) (domain.RewriteOutcome, error) {
	verdict, err := m.Moderate(ctx, text, gctx)
	if err != nil {
		return domain.RewriteOutcome{}, err
	}
	if !verdict.Flagged {
		return domain.RewriteOutcome{Original: text, Rewritten: text, WasRewritten: false, OriginalVerdict: verdict}, nil
	}

	rewriteResult, err := m.primary.RewriteContent(ctx, text, guidelines, gctx)
	if err != nil {
		m.logger.Error("moderation: rewrite attempt failed", "error", err)
		return domain.RewriteOutcome{Original: text, Rewritten: text, WasRewritten: false, OriginalVerdict: verdict}, nil
	}

	reVerdict, err := m.Moderate(ctx, rewriteResult.Rewritten, gctx)
	if err != nil {
		return domain.RewriteOutcome{}, err
	}

	return domain.RewriteOutcome{
		Original:       text,
		Rewritten:      rewriteResult.Rewritten,
		WasRewritten:   true,
		OriginalVerdict: verdict,
		RewriteVerdict:  &reVerdict,
	}, nil
}

func (m *Manager) recordLatency(d time.Duration) {
	const alpha = 0.2
	ms := float64(d.Milliseconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats.avgLatencyMillis == 0 {
		m.stats.avgLatencyMillis = ms
		return
	}
	m.stats.avgLatencyMillis = alpha*ms + (1-alpha)*m.stats.avgLatencyMillis
}

// GetStats returns a point-in-time copy of the running counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// HealthSnapshot is one provider's liveness at the last probe.
type HealthSnapshot struct {
	Provider    string
	Healthy     bool
	LastChecked time.Time
}

// Health probes both the primary and fallback provider independently.
func (m *Manager) Health(ctx context.Context) []HealthSnapshot {
	now := time.Now()
	out := []HealthSnapshot{{Provider: m.primary.Name(), Healthy: m.primary.Healthy(ctx), LastChecked: now}}
	if m.fallback != nil {
		out = append(out, HealthSnapshot{Provider: m.fallback.Name(), Healthy: m.fallback.Healthy(ctx), LastChecked: now})
	}
	return out
}
