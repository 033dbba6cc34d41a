// Package scheduler implements a priority queue of scheduled comments,
// ticked on an interval, gated by a rate limiter, with retry-with-backoff
// and a stopped/running/paused lifecycle. Its event reporting uses a
// channel of typed EventType values, mirroring the pattern used
// elsewhere in this module for lifecycle notifications.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/logging"
	"github.com/lokutor-ai/stream-commentator/pkg/metrics"
)

// EventType enumerates what Scheduler reports over its Events channel.
type EventType string

const (
	Processed  EventType = "PROCESSED"
	Failed     EventType = "FAILED"
	ErrorEvent EventType = "ERROR"
)

// Event is one item on the Scheduler's event channel.
type Event struct {
	Type    EventType
	Comment domain.ScheduledComment
	Reason  domain.RateLimitReason
	Err     error
}

// State is one of the Scheduler's lifecycle states.
type State string

const (
	Stopped State = "stopped"
	Running State = "running"
	Paused  State = "paused"
)

// RateLimiter is the subset of ratelimit.Limiter the Scheduler depends
// on, kept as an interface here so tests can stub it without importing
// the concrete package.
type RateLimiter interface {
	Check(text string, now time.Time) domain.RateLimitDecision
}

// Poster posts an allowed comment. Returning an error bubbles as an
// ErrorEvent rather than aborting the tick loop.
type Poster func(ctx context.Context, c domain.ScheduledComment) error

// Config tunes retry and tick behavior.
type Config struct {
	ProcessingInterval time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	QueueCapacity      int // 0 means unbounded
}

type item struct {
	comment domain.ScheduledComment
}

func compareItems(a, b item) int {
	if a.comment.Priority != b.comment.Priority {
		// Descending priority: higher priority sorts first.
		if a.comment.Priority > b.comment.Priority {
			return -1
		}
		return 1
	}
	// Ascending enqueue-time: earlier sorts first.
	if a.comment.EnqueuedAt.Before(b.comment.EnqueuedAt) {
		return -1
	}
	if a.comment.EnqueuedAt.After(b.comment.EnqueuedAt) {
		return 1
	}
	return 0
}

// Scheduler owns the priority queue and the dispatch loop.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	queue   *priorityqueue.Queue[item]
	ids     map[string]bool
	limiter RateLimiter
	poster  Poster
	logger  logging.Logger

	state  State
	cancel context.CancelFunc
	events chan Event

	metrics *metrics.Metrics
}

// SetMetrics attaches a metrics bundle; nil disables instrumentation.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// New builds a stopped Scheduler.
func New(cfg Config, limiter RateLimiter, poster Poster, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Scheduler{
		cfg:     cfg,
		queue:   priorityqueue.NewWith(compareItems),
		ids:     make(map[string]bool),
		limiter: limiter,
		poster:  poster,
		logger:  logger,
		state:   Stopped,
		events:  make(chan Event, 256),
	}
}

// Events returns the read side of the Scheduler's event channel.
func (s *Scheduler) Events() <-chan Event { return s.events }

// Enqueue adds c to the queue. Rejects duplicate ids and, if configured
// with a finite capacity, a full queue.
func (s *Scheduler) Enqueue(c domain.ScheduledComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ids[c.ID] {
		return fmt.Errorf("scheduler: duplicate id %q", c.ID)
	}
	if s.cfg.QueueCapacity > 0 && s.queue.Size() >= s.cfg.QueueCapacity {
		return fmt.Errorf("scheduler: queue is full")
	}

	s.queue.Enqueue(item{comment: c})
	s.ids[c.ID] = true
	if s.metrics != nil {
		s.metrics.SchedulerQueueDepth.Add(context.Background(), 1)
	}
	return nil
}

// Start transitions stopped->running and begins the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = Running
	s.mu.Unlock()

	go s.run(runCtx)
}

// Pause transitions running->paused; the dispatch loop keeps ticking but
// skips dequeues while paused.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		s.state = Paused
	}
}

// Resume transitions paused->running.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Paused {
		s.state = Running
	}
}

// Stop cancels all pending timers, clears the in-flight item, and
// transitions to stopped from any state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = Stopped
	s.queue.Clear()
	s.ids = make(map[string]bool)
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ProcessingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	next, ok := s.queue.Dequeue()
	if ok {
		delete(s.ids, next.comment.ID)
	}
	m := s.metrics
	s.mu.Unlock()

	if !ok {
		return
	}
	if m != nil {
		m.SchedulerQueueDepth.Add(ctx, -1)
	}

	decision := s.limiter.Check(next.comment.Text, time.Now())
	if decision.Allowed {
		if err := s.poster(ctx, next.comment); err != nil {
			s.emit(Event{Type: ErrorEvent, Comment: next.comment, Err: err})
			return
		}
		if m != nil {
			m.SchedulerProcessed.Add(ctx, 1)
		}
		s.emit(Event{Type: Processed, Comment: next.comment})
		return
	}

	if decision.Reason == domain.ReasonDuplicate {
		s.emit(Event{Type: Failed, Comment: next.comment, Reason: decision.Reason})
		return
	}

	if next.comment.RetryCount < s.cfg.MaxRetries {
		next.comment.RetryCount++
		go s.retryAfterDelay(ctx, next.comment)
		return
	}

	if m != nil {
		m.SchedulerFailed.Add(ctx, 1)
	}
	s.emit(Event{Type: Failed, Comment: next.comment, Reason: "max_retries"})
}

func (s *Scheduler) retryAfterDelay(ctx context.Context, c domain.ScheduledComment) {
	timer := time.NewTimer(s.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	if s.metrics != nil {
		s.metrics.SchedulerQueueDepth.Add(context.Background(), 1)
	}
	s.queue.Enqueue(item{comment: c})
	s.ids[c.ID] = true
}

func (s *Scheduler) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warn("scheduler: event channel full, dropping event", "type", e.Type)
	}
}
