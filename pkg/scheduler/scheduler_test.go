package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

type fakeLimiter struct {
	decision domain.RateLimitDecision
}

func (f *fakeLimiter) Check(text string, now time.Time) domain.RateLimitDecision {
	return f.decision
}

func TestEnqueue_RejectsDuplicateID(t *testing.T) {
	s := New(Config{ProcessingInterval: time.Hour, MaxRetries: 1, RetryDelay: time.Millisecond}, &fakeLimiter{}, nil, nil)
	c := domain.ScheduledComment{ID: "a", Text: "hi", Priority: 1, EnqueuedAt: time.Now()}
	if err := s.Enqueue(c); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(c); err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
}

func TestEnqueue_RejectsWhenQueueFull(t *testing.T) {
	s := New(Config{ProcessingInterval: time.Hour, QueueCapacity: 1}, &fakeLimiter{}, nil, nil)
	if err := s.Enqueue(domain.ScheduledComment{ID: "a", EnqueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := s.Enqueue(domain.ScheduledComment{ID: "b", EnqueuedAt: time.Now()}); err == nil {
		t.Fatalf("expected full-queue rejection")
	}
}

func TestTick_DispatchesHighestPriorityFirst(t *testing.T) {
	posted := make(chan string, 2)
	poster := func(ctx context.Context, c domain.ScheduledComment) error {
		posted <- c.ID
		return nil
	}
	s := New(Config{ProcessingInterval: time.Hour, MaxRetries: 1, RetryDelay: time.Millisecond},
		&fakeLimiter{decision: domain.RateLimitDecision{Allowed: true}}, poster, nil)

	now := time.Now()
	_ = s.Enqueue(domain.ScheduledComment{ID: "low", Priority: 1, EnqueuedAt: now})
	_ = s.Enqueue(domain.ScheduledComment{ID: "high", Priority: 5, EnqueuedAt: now.Add(time.Second)})

	s.mu.Lock()
	s.state = Running
	s.mu.Unlock()

	s.tick(context.Background())

	select {
	case id := <-posted:
		if id != "high" {
			t.Fatalf("expected higher-priority item dispatched first, got %q", id)
		}
	default:
		t.Fatalf("expected a dispatch")
	}

	ev := <-s.Events()
	if ev.Type != Processed || ev.Comment.ID != "high" {
		t.Fatalf("expected processed event for high, got %+v", ev)
	}
}

func TestTick_DropsDuplicateRejectionWithoutRetry(t *testing.T) {
	s := New(Config{ProcessingInterval: time.Hour, MaxRetries: 3, RetryDelay: time.Millisecond},
		&fakeLimiter{decision: domain.RateLimitDecision{Allowed: false, Reason: domain.ReasonDuplicate}}, nil, nil)

	_ = s.Enqueue(domain.ScheduledComment{ID: "a", EnqueuedAt: time.Now()})
	s.mu.Lock()
	s.state = Running
	s.mu.Unlock()

	s.tick(context.Background())

	ev := <-s.Events()
	if ev.Type != Failed || ev.Reason != domain.ReasonDuplicate {
		t.Fatalf("expected failed/duplicate event, got %+v", ev)
	}
}

func TestStop_ClearsQueueAndState(t *testing.T) {
	s := New(Config{ProcessingInterval: time.Millisecond}, &fakeLimiter{}, nil, nil)
	_ = s.Enqueue(domain.ScheduledComment{ID: "a", EnqueuedAt: time.Now()})
	s.Start(context.Background())
	s.Stop()

	if s.State() != Stopped {
		t.Fatalf("expected stopped state, got %s", s.State())
	}
	if err := s.Enqueue(domain.ScheduledComment{ID: "a", EnqueuedAt: time.Now()}); err != nil {
		t.Fatalf("expected id to be reusable after stop cleared the queue: %v", err)
	}
}

func TestPauseResume_TogglesRunningState(t *testing.T) {
	s := New(Config{ProcessingInterval: time.Millisecond}, &fakeLimiter{}, nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	s.Pause()
	if s.State() != Paused {
		t.Fatalf("expected paused state, got %s", s.State())
	}
	s.Resume()
	if s.State() != Running {
		t.Fatalf("expected running state after resume, got %s", s.State())
	}
}
