package policy

import (
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

// Engine applies a CommentPolicy to generated text in a fixed order:
// forbidden-term redaction, then length adjustment, then emoji
// normalization. Redaction runs first so a
// truncation boundary is never chosen inside a term that is about to be
// blanked out, and emoji runs last since SanitizeEmoji's own length
// contribution should not be clipped away by the length step.
type Engine struct {
	forbidden *ForbiddenTermSet
}

// NewEngine builds an Engine with an empty forbidden-term set; callers
// add terms via AddForbiddenTerm or replace the set with SetForbiddenTerms.
func NewEngine() *Engine {
	return &Engine{forbidden: NewForbiddenTermSet()}
}

// AddForbiddenTerm registers an additional redacted term.
func (e *Engine) AddForbiddenTerm(term string) {
	e.forbidden.Add(term)
}

// SetForbiddenTerms replaces the entire forbidden-term set.
func (e *Engine) SetForbiddenTerms(terms []string) {
	e.forbidden = NewForbiddenTermSet(terms...)
}

// Result is what Apply returns: the adjusted text plus a record of what
// it did, useful for logging and for ModerationManager's rewrite loop.
type Result struct {
	Text      string
	Redacted  bool
	EmojiUsed map[string]bool
}

// Apply runs the full pipeline against text under policy, using recent
// to anti-repeat emoji and now as the clock for that window.
func (e *Engine) Apply(text string, policy domain.CommentPolicy, recent []RecentComment, now time.Time) Result {
	redactedText, wasRedacted := e.forbidden.Redact(text)

	lengthAdjusted := AdjustLength(redactedText, policy.TargetLength, policy.EncouragedExpressions)

	emojiSanitized := SanitizeEmoji(lengthAdjusted, policy.Emoji)
	final := AntiRepeat(emojiSanitized, recent, now)

	return Result{
		Text:      final,
		Redacted:  wasRedacted,
		EmojiUsed: EmojiSet(final),
	}
}
