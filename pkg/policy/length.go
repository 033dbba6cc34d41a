package policy

import (
	"strings"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

// sentenceBoundaries are checked in order when truncating; the ASCII
// period/question/exclamation and their full-width Japanese
// equivalents are all treated as sentence-ending punctuation.
var sentenceBoundaries = []rune{'。', '！', '？', '.', '!', '?'}

// AdjustLength returns text resized into [policy.Min, policy.Max] code
// points, measured by code-point count. If under min, a
// persona-appropriate filler is appended until the minimum is reached.
// If over max, text is truncated at the last sentence boundary at or
// before max; if none is found, it is hard-truncated with a trailing
// ellipsis.
func AdjustLength(text string, target domain.TargetLength, fillers []string) string {
	runes := []rune(text)

	if len(runes) < target.Min {
		return extend(runes, target.Min, fillers)
	}
	if len(runes) > target.Max {
		return truncate(runes, target.Max)
	}
	return text
}

func extend(runes []rune, min int, fillers []string) string {
	var b strings.Builder
	b.WriteString(string(runes))
	if len(fillers) == 0 {
		fillers = []string{"ですね", "すごいです", "いいですね"}
	}
	idx := 0
	current := []rune(b.String())
	for len(current) < min {
		filler := fillers[idx%len(fillers)]
		idx++
		b.WriteString(" ")
		b.WriteString(filler)
		current = []rune(b.String())
	}
	return b.String()
}

func truncate(runes []rune, max int) string {
	window := runes[:max]

	lastBoundary := -1
	for i, r := range window {
		if isSentenceBoundary(r) {
			lastBoundary = i
		}
	}

	if lastBoundary >= 0 {
		return string(window[:lastBoundary+1])
	}

	// No sentence boundary found within the window: hard-truncate and
	// append an ellipsis.
	if max <= 1 {
		return "…"
	}
	return string(window[:max-1]) + "…"
}

func isSentenceBoundary(r rune) bool {
	for _, b := range sentenceBoundaries {
		if r == b {
			return true
		}
	}
	return false
}
