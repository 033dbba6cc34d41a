package audio

import "testing"

func TestDefaultConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxBackoff.Seconds() != 30 {
		t.Fatalf("expected default max backoff of 30s, got %s", cfg.MaxBackoff)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts of 5, got %d", cfg.MaxAttempts)
	}
	if !cfg.AutoReconnect {
		t.Fatalf("expected auto-reconnect enabled by default")
	}
}
