// Package ratelimit implements min-interval spacing, a sliding-window
// post cap, a cooldown trigger, dedupe against recent text, and
// periodic cleanup of stale records.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/metrics"
)

// Config holds the rate-limit tunables, represented as time.Duration.
type Config struct {
	MinInterval  time.Duration
	WindowSize   int           // N posts
	WindowPeriod time.Duration // per W seconds, default 20 per 600s
	Cooldown     time.Duration
	DedupeWindow time.Duration
}

// DefaultConfig returns the standard default: 20 posts per 600s.
func DefaultConfig() Config {
	return Config{
		MinInterval:  0,
		WindowSize:   20,
		WindowPeriod: 600 * time.Second,
		Cooldown:     60 * time.Second,
		DedupeWindow: 120 * time.Second,
	}
}

type record struct {
	normalizedText string
	postedAt       time.Time
}

// Limiter tracks recent posts and decides whether a new one is allowed.
type Limiter struct {
	mu            sync.Mutex
	cfg           Config
	records       []record
	lastPostAt    time.Time
	cooldownUntil time.Time
	metrics       *metrics.Metrics
}

// SetMetrics attaches a metrics bundle; nil disables instrumentation.
func (l *Limiter) SetMetrics(m *metrics.Metrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// New builds a Limiter with cfg.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg}
}

// SetConfig atomically swaps the active tunables.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// Check evaluates text against the fixed decision order (empty text,
// dedupe, cooldown, min-interval, window cap) and, on allow, records the post and
// updates cooldown/last-post state. now is passed explicitly so tests
// control the clock.
func (l *Limiter) Check(text string, now time.Time) (decision domain.RateLimitDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.metrics != nil {
		m := l.metrics
		defer func() {
			if decision.Allowed {
				m.RateLimitAllowed.Add(context.Background(), 1)
			} else {
				m.RateLimitRejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", string(decision.Reason))))
			}
		}()
	}

	l.cleanupLocked(now)

	if strings.TrimSpace(text) == "" {
		return domain.RateLimitDecision{Allowed: false, Reason: domain.ReasonInvalid}
	}

	normalized := normalizeForDedupe(text)
	for _, r := range l.records {
		if now.Sub(r.postedAt) <= l.cfg.DedupeWindow && r.normalizedText == normalized {
			return domain.RateLimitDecision{Allowed: false, Reason: domain.ReasonDuplicate}
		}
	}

	if now.Before(l.cooldownUntil) {
		return domain.RateLimitDecision{
			Allowed:        false,
			Reason:         domain.ReasonCooldown,
			RetryAfterSecs: l.cooldownUntil.Sub(now).Seconds(),
		}
	}

	if !l.lastPostAt.IsZero() && now.Sub(l.lastPostAt) < l.cfg.MinInterval {
		return domain.RateLimitDecision{
			Allowed:        false,
			Reason:         domain.ReasonMinInterval,
			RetryAfterSecs: (l.cfg.MinInterval - now.Sub(l.lastPostAt)).Seconds(),
		}
	}

	inWindow := l.recordsWithin(l.cfg.WindowPeriod, now)
	if l.cfg.WindowSize > 0 && len(inWindow) >= l.cfg.WindowSize {
		oldest := inWindow[0].postedAt
		retryAfter := l.cfg.WindowPeriod - now.Sub(oldest)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return domain.RateLimitDecision{
			Allowed:        false,
			Reason:         domain.ReasonRateLimit,
			RetryAfterSecs: retryAfter.Seconds(),
		}
	}

	l.records = append(l.records, record{normalizedText: normalized, postedAt: now})
	l.lastPostAt = now

	if recent := len(l.recordsWithin(60*time.Second, now)); recent >= 3 {
		l.cooldownUntil = now.Add(l.cfg.Cooldown)
	}

	return domain.RateLimitDecision{Allowed: true}
}

// recordsWithin returns records posted at or after now-window, oldest
// first (records are always appended in chronological order).
func (l *Limiter) recordsWithin(window time.Duration, now time.Time) []record {
	var out []record
	for _, r := range l.records {
		if now.Sub(r.postedAt) <= window {
			out = append(out, r)
		}
	}
	return out
}

// cleanupLocked discards records older than the widest horizon any rule
// still needs: max(window, dedupe).
func (l *Limiter) cleanupLocked(now time.Time) {
	horizon := l.cfg.WindowPeriod
	if l.cfg.DedupeWindow > horizon {
		horizon = l.cfg.DedupeWindow
	}
	if horizon <= 0 {
		return
	}
	kept := l.records[:0]
	for _, r := range l.records {
		if now.Sub(r.postedAt) <= horizon {
			kept = append(kept, r)
		}
	}
	l.records = kept
}

// StartCleanup runs cleanupLocked on a periodic tick until ctx (well,
// the returned stop func) is invoked, for long-lived processes where
// Check may not be called often enough on its own to bound memory.
func (l *Limiter) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.mu.Lock()
				l.cleanupLocked(time.Now())
				l.mu.Unlock()
			}
		}
	}()
	return func() { close(stop) }
}

// normalizeForDedupe folds text for dedupe comparison: trim, lower-case,
// fold whitespace (including full-width), collapse repeated punctuation.
func normalizeForDedupe(text string) string {
	var b strings.Builder
	var lastWasSpace bool
	var lastPunct rune

	for _, r := range strings.TrimSpace(text) {
		if unicode.IsSpace(r) || r == '　' {
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			lastPunct = 0
			continue
		}
		lastWasSpace = false

		lower := unicode.ToLower(r)
		if isPunct(lower) {
			if lower == lastPunct {
				continue
			}
			lastPunct = lower
		} else {
			lastPunct = 0
		}
		b.WriteRune(lower)
	}
	return strings.TrimSpace(b.String())
}

func isPunct(r rune) bool {
	switch r {
	case '!', '?', '.', ',', '！', '？', '。', '、', '…', '〜', '~':
		return true
	default:
		return false
	}
}
