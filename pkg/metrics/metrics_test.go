package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewRegistersAllInstruments(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("test")

	m, err := New(meter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.FailoverHealthChanges == nil || m.ModerationLatency == nil || m.RateLimitAllowed == nil || m.SchedulerQueueDepth == nil {
		t.Fatal("expected all instruments to be initialized")
	}

	m.FailoverRequests.Add(context.Background(), 1)
	m.ModerationRequests.Add(context.Background(), 1)
	m.RateLimitRejected.Add(context.Background(), 1)
	m.SchedulerProcessed.Add(context.Background(), 1)
}
