package supervisor

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestSupervisorRunSuccess(t *testing.T) {
	s := New(time.Second, nil)
	var cleaned bool
	s.RegisterCleanup("noop", func(ctx context.Context) error {
		cleaned = true
		return nil
	})

	code := s.Run(context.Background(), func(ctx context.Context) error {
		return nil
	})
	if code != ExitOK {
		t.Errorf("expected exit 0, got %d", code)
	}
	if !cleaned {
		t.Error("expected cleanup hook to run")
	}
}

func TestSupervisorRunError(t *testing.T) {
	s := New(time.Second, nil)
	code := s.Run(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	if code != ExitError {
		t.Errorf("expected exit 1, got %d", code)
	}
}

func TestSupervisorRunPanicRoutesThroughShutdown(t *testing.T) {
	s := New(time.Second, nil)
	var cleaned bool
	s.RegisterCleanup("noop", func(ctx context.Context) error {
		cleaned = true
		return nil
	})

	code := s.Run(context.Background(), func(ctx context.Context) error {
		panic("unexpected")
	})
	if code != ExitError {
		t.Errorf("expected exit 1, got %d", code)
	}
	if !cleaned {
		t.Error("expected cleanup hook to run even after a panic")
	}
}

func TestSupervisorRunSignal(t *testing.T) {
	s := New(time.Second, nil)
	started := make(chan struct{})
	code := 0
	done := make(chan struct{})

	go func() {
		code = s.Run(context.Background(), func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		})
		close(done)
	}()

	<-started
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after signal")
	}
	if code != ExitTerminate {
		t.Errorf("expected exit 143, got %d", code)
	}
}
