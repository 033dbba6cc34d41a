package failover

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

type mockProvider struct {
	name string
}

func (m *mockProvider) Name() string                             { return m.name }
func (m *mockProvider) Healthy(ctx context.Context) bool          { return true }

func TestExecute_FailsOverToNextHealthyProvider(t *testing.T) {
	a := &mockProvider{name: "A"}
	b := &mockProvider{name: "B"}
	c := &mockProvider{name: "C"}

	ctrl, err := New[*mockProvider](nil, a, b, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var called []string
	err = ctrl.Execute(context.Background(), func(ctx context.Context, p *mockProvider) error {
		called = append(called, p.Name())
		switch p.Name() {
		case "A":
			return providers.NewRetryable("A", errors.New("network blip"))
		case "B":
			return nil
		default:
			t.Fatalf("provider %s should not have been called", p.Name())
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(called) != 2 || called[0] != "A" || called[1] != "B" {
		t.Fatalf("unexpected call order: %v", called)
	}
}

func TestExecute_FatalErrorAbortsImmediately(t *testing.T) {
	a := &mockProvider{name: "A"}
	b := &mockProvider{name: "B"}

	ctrl, err := New[*mockProvider](nil, a, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var called []string
	fatal := providers.NewFatal("A", errors.New("invalid credentials"))
	err = ctrl.Execute(context.Background(), func(ctx context.Context, p *mockProvider) error {
		called = append(called, p.Name())
		return fatal
	})
	if err != fatal {
		t.Fatalf("expected fatal error to propagate, got %v", err)
	}
	if len(called) != 1 {
		t.Fatalf("expected only the first provider to be called, got %v", called)
	}
}

func TestExecute_AllProvidersFail(t *testing.T) {
	a := &mockProvider{name: "A"}
	b := &mockProvider{name: "B"}

	ctrl, err := New[*mockProvider](nil, a, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = ctrl.Execute(context.Background(), func(ctx context.Context, p *mockProvider) error {
		return providers.NewRetryable(p.Name(), errors.New("down"))
	})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestNew_RequiresAtLeastOneProvider(t *testing.T) {
	if _, err := New[*mockProvider](nil); err == nil {
		t.Fatal("expected error for empty provider list")
	}
}
