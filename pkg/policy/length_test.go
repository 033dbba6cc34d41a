package policy

import (
	"strings"
	"testing"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

func TestAdjustLength_ExtendsShortText(t *testing.T) {
	target := domain.TargetLength{Min: 20, Max: 60}
	out := AdjustLength("すごい！", target, nil)

	if got := []rune(out); len(got) < target.Min {
		t.Fatalf("expected length >= %d, got %d (%q)", target.Min, len(got), out)
	}
	if !strings.HasPrefix(out, "すごい！") {
		t.Fatalf("expected output to start with original text, got %q", out)
	}
}

func TestAdjustLength_WithinRangeUnchanged(t *testing.T) {
	target := domain.TargetLength{Min: 1, Max: 60}
	in := "それはいいプレイでしたね"
	if out := AdjustLength(in, target, nil); out != in {
		t.Fatalf("expected unchanged text, got %q", out)
	}
}

func TestAdjustLength_TruncatesAtSentenceBoundary(t *testing.T) {
	target := domain.TargetLength{Min: 1, Max: 10}
	in := "すごいね。でもちょっと危なかった。"
	out := AdjustLength(in, target, nil)

	if got := []rune(out); len(got) > target.Max {
		t.Fatalf("expected length <= %d, got %d (%q)", target.Max, len(got), out)
	}
	if !strings.HasSuffix(out, "。") {
		t.Fatalf("expected truncation at a sentence boundary, got %q", out)
	}
}

func TestAdjustLength_HardTruncatesWithEllipsisWhenNoBoundary(t *testing.T) {
	target := domain.TargetLength{Min: 1, Max: 5}
	in := "ながいながいながいコメント"
	out := AdjustLength(in, target, nil)

	if got := []rune(out); len(got) > target.Max {
		t.Fatalf("expected length <= %d, got %d (%q)", target.Max, len(got), out)
	}
	if !strings.HasSuffix(out, "…") {
		t.Fatalf("expected hard-truncated text to end with an ellipsis, got %q", out)
	}
}

