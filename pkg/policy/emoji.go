package policy

import (
	"strings"
	"time"

	"github.com/rivo/uniseg"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

// graphemes splits s into user-perceived clusters so a multi-rune emoji
// (flag sequences, ZWJ combos, skin-tone modifiers) is treated as one
// unit rather than several runes.
func graphemes(s string) []string {
	var out []string
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		out = append(out, gr.Str())
	}
	return out
}

// isEmoji reports whether a grapheme cluster's leading rune falls in an
// extended-pictographic range. uniseg gives us correct cluster
// boundaries (so a ZWJ sequence or skin-tone modifier is one unit); the
// presentation check itself is a plain rune-range test.
func isEmoji(cluster string) bool {
	for _, r := range cluster {
		return isPictographic(r)
	}
	return false
}

// isPictographic reports membership in the Unicode ranges commonly
// reserved for pictographs/symbols/emoji, used as a fallback when a rune
// has no explicit emoji-presentation property (e.g. digits would not
// qualify, but most single-codepoint emoji do).
func isPictographic(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2190 && r <= 0x21FF:
		return true
	case r == 0x2764 || r == 0x2B50 || r == 0x2728:
		return true
	default:
		return false
	}
}

// SanitizeEmoji enforces an EmojiPolicy against text: disallowed emoji
// are stripped outright, and allowed emoji beyond MaxCount are dropped,
// keeping the first MaxCount occurrences in document order. Non-emoji
// text is left untouched.
func SanitizeEmoji(text string, policy domain.EmojiPolicy) string {
	if !policy.Enabled {
		return stripAllEmoji(text)
	}

	allowed := make(map[string]bool, len(policy.AllowedEmojis))
	for _, e := range policy.AllowedEmojis {
		allowed[e] = true
	}

	var b strings.Builder
	kept := 0
	for _, cluster := range graphemes(text) {
		if !isEmoji(cluster) {
			b.WriteString(cluster)
			continue
		}
		if !allowed[cluster] {
			continue
		}
		if kept >= policy.MaxCount {
			continue
		}
		b.WriteString(cluster)
		kept++
	}
	return b.String()
}

func stripAllEmoji(text string) string {
	var b strings.Builder
	for _, cluster := range graphemes(text) {
		if isEmoji(cluster) {
			continue
		}
		b.WriteString(cluster)
	}
	return b.String()
}

// CountEmoji returns the number of emoji grapheme clusters in text.
func CountEmoji(text string) int {
	n := 0
	for _, cluster := range graphemes(text) {
		if isEmoji(cluster) {
			n++
		}
	}
	return n
}

// EmojiSet returns the distinct set of emoji grapheme clusters in text,
// used to compare against a recent-comments window for anti-repetition.
func EmojiSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, cluster := range graphemes(text) {
		if isEmoji(cluster) {
			set[cluster] = true
		}
	}
	return set
}

// RecentComment is the minimal shape AntiRepeat (and the coordinator's
// echo-suppression check) needs from comment history: when it was
// posted, what emoji it used, and the posted text itself.
type RecentComment struct {
	PostedAt time.Time
	Emoji    map[string]bool
	Text     string
}

// antiRepeatWindow is how far back AntiRepeat looks when deciding
// whether an emoji was "recently used".
const antiRepeatWindow = 60 * time.Second

// AntiRepeat removes emoji from text that also appear in any comment
// posted within the last 60 seconds, so the same emoji is not spammed
// across consecutive comments. now is passed explicitly so callers
// (and tests) control the clock.
func AntiRepeat(text string, recent []RecentComment, now time.Time) string {
	recentlyUsed := make(map[string]bool)
	for _, c := range recent {
		if now.Sub(c.PostedAt) > antiRepeatWindow {
			continue
		}
		for e := range c.Emoji {
			recentlyUsed[e] = true
		}
	}
	if len(recentlyUsed) == 0 {
		return text
	}

	var b strings.Builder
	for _, cluster := range graphemes(text) {
		if isEmoji(cluster) && recentlyUsed[cluster] {
			continue
		}
		b.WriteString(cluster)
	}
	return b.String()
}
