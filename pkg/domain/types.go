// Package domain holds the data shapes shared by every stage of the
// pipeline (capture, transcription, context, policy, moderation,
// scheduling) so that sibling packages never need to import each other
// just to pass a struct around.
package domain

import "time"

// AudioFrame is a raw PCM buffer produced by an AudioSource. It is
// immutable; its lifetime ends when it is pushed into an STT stream or
// dropped by the caller.
type AudioFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
	CapturedAt time.Time
}

// Message is one turn of LLM conversation context (system/user/assistant).
type Message struct {
	Role    string
	Content string
}

// Segment is a timed slice of a Transcript's text.
type Segment struct {
	Text       string
	StartSec   float64
	EndSec     float64
	Confidence float64
}

// Transcript is the normalized output of any STT provider, batch or
// streaming. Segments are always present (possibly empty); Language is
// optional and left empty when the provider auto-detected or did not
// report one.
type Transcript struct {
	Text       string
	Confidence float64
	Language   string
	Timestamp  time.Time
	Provider   string
	IsFinal    bool
	Segments   []Segment
}

// ContextSnapshot is a deep-copied, read-only view of the rolling
// conversational context maintained by the ContextStore.
type ContextSnapshot struct {
	RecentTranscripts []Transcript
	Topics            []string
	Keywords          map[string]float64
	Engagement        float64
}

// OpportunityLabel classifies whether the current moment is a good one
// to generate a comment.
type OpportunityLabel string

const (
	OpportunityNecessary   OpportunityLabel = "necessary"
	OpportunityUnnecessary OpportunityLabel = "unnecessary"
	OpportunityHold        OpportunityLabel = "hold"
)

// Opportunity is the output of the OpportunityDetector.
type Opportunity struct {
	Label      OpportunityLabel
	Confidence float64
	Reason     string
}

// EmojiPolicy controls whether and how many emoji a generated comment
// may contain.
type EmojiPolicy struct {
	Enabled       bool
	MaxCount      int
	AllowedEmojis []string
}

// TargetLength bounds the rendered comment length in code points.
// Invariant: Min >= 1 and Min <= Max.
type TargetLength struct {
	Min int
	Max int
}

// CommentPolicy is the persona/style contract enforced by the
// PolicyEngine before a comment may be moderated and posted.
type CommentPolicy struct {
	Tone                  string
	Persona               string
	EncouragedExpressions []string
	ForbiddenTerms        []string
	Emoji                 EmojiPolicy
	TargetLength          TargetLength
}

// SafetyLevel selects a preset family of moderation thresholds.
// Ordered loosely strict > standard > relaxed for "stricter wins" merges.
type SafetyLevel string

const (
	SafetyStrict   SafetyLevel = "strict"
	SafetyStandard SafetyLevel = "standard"
	SafetyRelaxed  SafetyLevel = "relaxed"
)

// Rank returns an ordering where a higher number is a stricter level,
// used by the config safety-first merge strategy.
func (l SafetyLevel) Rank() int {
	switch l {
	case SafetyStrict:
		return 2
	case SafetyStandard:
		return 1
	case SafetyRelaxed:
		return 0
	default:
		return 1
	}
}

// ModerationCategory is one of the fixed scoring dimensions a
// ModerationProvider reports.
type ModerationCategory string

const (
	CategoryHate        ModerationCategory = "hate"
	CategoryHarassment  ModerationCategory = "harassment"
	CategorySelfHarm    ModerationCategory = "self-harm"
	CategorySexual      ModerationCategory = "sexual"
	CategoryViolence    ModerationCategory = "violence"
	CategoryIllegal     ModerationCategory = "illegal"
	CategoryGraphic     ModerationCategory = "graphic"
)

// AllCategories lists every category the threshold table must cover.
var AllCategories = []ModerationCategory{
	CategoryHate, CategoryHarassment, CategorySelfHarm,
	CategorySexual, CategoryViolence, CategoryIllegal, CategoryGraphic,
}

// ThresholdTable maps each category to the score at/above which it
// flags.
type ThresholdTable map[ModerationCategory]float64

// SafetyPolicy governs moderation behavior for the whole pipeline.
type SafetyPolicy struct {
	Enabled             bool
	Level               SafetyLevel
	BlockOnUncertainty  bool
	Thresholds          ThresholdTable
}

// SuggestedAction is ModerationManager's recommendation for a verdict.
type SuggestedAction string

const (
	ActionApprove SuggestedAction = "approve"
	ActionReview  SuggestedAction = "review"
	ActionBlock   SuggestedAction = "block"
	ActionRewrite SuggestedAction = "rewrite"
)

// ModerationVerdict is the normalized result of a moderation call.
type ModerationVerdict struct {
	Flagged           bool
	CategoryScores    map[ModerationCategory]float64
	FlaggedCategories []ModerationCategory
	SuggestedAction   SuggestedAction
	ErrorTag          string
	Provider          string
}

// RewriteOutcome is the result of ModerationManager.ModerateAndRewrite.
type RewriteOutcome struct {
	Original      string
	Rewritten     string
	WasRewritten  bool
	OriginalVerdict  ModerationVerdict
	RewriteVerdict   *ModerationVerdict
}

// ScheduledComment is one item of work sitting in the Scheduler's
// priority queue.
type ScheduledComment struct {
	ID         string
	Text       string
	Priority   int
	EnqueuedAt time.Time
	RetryCount int
}

// RateLimitReason enumerates why RateLimiter.Check rejected a text.
type RateLimitReason string

const (
	ReasonInvalid     RateLimitReason = "invalid"
	ReasonDuplicate   RateLimitReason = "duplicate"
	ReasonCooldown    RateLimitReason = "cooldown"
	ReasonMinInterval RateLimitReason = "min_interval"
	ReasonRateLimit   RateLimitReason = "rate_limit"
)

// RateLimitDecision is the outcome of RateLimiter.Check.
type RateLimitDecision struct {
	Allowed         bool
	Reason          RateLimitReason
	RetryAfterSecs  float64
}

// ProcessResult is what the PipelineCoordinator returns for a single
// audio chunk; it never raises an error to its caller.
type ProcessResult struct {
	Success          bool
	Transcript       *Transcript
	GeneratedComment string
	Posted           bool
	PostID           string
	Error            string
	Timestamp        time.Time
}
