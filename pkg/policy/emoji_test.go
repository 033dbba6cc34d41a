package policy

import (
	"testing"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

func TestSanitizeEmoji_KeepsOnlyAllowedUpToMaxCount(t *testing.T) {
	policy := domain.EmojiPolicy{
		Enabled:       true,
		MaxCount:      1,
		AllowedEmojis: []string{"👏", "✨", "🙏", "💡"},
	}
	out := SanitizeEmoji("すごい！👏✨🙏💡", policy)

	if got := CountEmoji(out); got != 1 {
		t.Fatalf("expected exactly one emoji, got %d in %q", got, out)
	}
	for e := range EmojiSet(out) {
		if !contains(policy.AllowedEmojis, e) {
			t.Fatalf("unexpected emoji %q survived sanitization", e)
		}
	}
}

func TestSanitizeEmoji_StripsDisallowedEmoji(t *testing.T) {
	policy := domain.EmojiPolicy{Enabled: true, MaxCount: 5, AllowedEmojis: []string{"👏"}}
	out := SanitizeEmoji("最高👏🔥", policy)
	if CountEmoji(out) != 1 {
		t.Fatalf("expected only the allowed emoji to survive, got %q", out)
	}
	if EmojiSet(out)["🔥"] {
		t.Fatalf("disallowed emoji was not stripped: %q", out)
	}
}

func TestSanitizeEmoji_DisabledStripsAll(t *testing.T) {
	policy := domain.EmojiPolicy{Enabled: false}
	out := SanitizeEmoji("最高👏🔥", policy)
	if CountEmoji(out) != 0 {
		t.Fatalf("expected all emoji stripped when disabled, got %q", out)
	}
}

func TestAntiRepeat_RemovesRecentlyUsedEmoji(t *testing.T) {
	now := time.Now()
	recent := []RecentComment{
		{PostedAt: now.Add(-10 * time.Second), Emoji: map[string]bool{"👏": true}},
	}
	out := AntiRepeat("いいね👏✨", recent, now)
	if EmojiSet(out)["👏"] {
		t.Fatalf("expected recently used emoji removed, got %q", out)
	}
	if !EmojiSet(out)["✨"] {
		t.Fatalf("expected unrelated emoji kept, got %q", out)
	}
}

func TestAntiRepeat_IgnoresStaleHistory(t *testing.T) {
	now := time.Now()
	recent := []RecentComment{
		{PostedAt: now.Add(-90 * time.Second), Emoji: map[string]bool{"👏": true}},
	}
	out := AntiRepeat("いいね👏", recent, now)
	if !EmojiSet(out)["👏"] {
		t.Fatalf("expected emoji from stale history to be kept, got %q", out)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
