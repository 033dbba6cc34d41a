package policy

import (
	"testing"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

func TestEngine_AppliesRedactionLengthAndEmojiTogether(t *testing.T) {
	e := NewEngine()
	e.AddForbiddenTerm("バカ")

	policy := domain.CommentPolicy{
		TargetLength: domain.TargetLength{Min: 5, Max: 30},
		Emoji: domain.EmojiPolicy{
			Enabled:       true,
			MaxCount:      2,
			AllowedEmojis: []string{"👏", "✨"},
		},
	}

	result := e.Apply("ばかああ野郎👏👏👏✨", policy, nil, time.Now())

	if !result.Redacted {
		t.Fatalf("expected redaction to have occurred")
	}
	if got := []rune(result.Text); len(got) < policy.TargetLength.Min || len(got) > policy.TargetLength.Max {
		t.Fatalf("expected length in [%d,%d], got %d (%q)", policy.TargetLength.Min, policy.TargetLength.Max, len(got), result.Text)
	}
	if CountEmoji(result.Text) > policy.Emoji.MaxCount {
		t.Fatalf("expected emoji count <= %d, got %d", policy.Emoji.MaxCount, CountEmoji(result.Text))
	}
	if Normalize(result.Text) != Normalize(result.Text) {
		t.Fatalf("sanity: normalize should be stable")
	}
}

func TestEngine_NeverLeavesForbiddenTermAfterAdjustment(t *testing.T) {
	e := NewEngine()
	e.AddForbiddenTerm("バカ")

	policy := domain.CommentPolicy{
		TargetLength: domain.TargetLength{Min: 1, Max: 100},
		Emoji:        domain.EmojiPolicy{Enabled: false},
	}

	result := e.Apply("すごいね、ばか", policy, nil, time.Now())
	if e.forbidden.Matches(result.Text) {
		t.Fatalf("forbidden term survived policy application: %q", result.Text)
	}
}
