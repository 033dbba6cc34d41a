// Package config implements a typed, validated configuration tree,
// merge strategies against a remote copy, and an auto-sync loop.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

// STTProviders names the primary and fallback STT providers.
type STTProviders struct {
	Primary  string   `yaml:"primary" validate:"required,oneof=groq openai deepgram assemblyai"`
	Fallback []string `yaml:"fallback" validate:"dive,oneof=groq openai deepgram assemblyai"`
}

// LLMProviders names the primary LLM provider and model.
type LLMProviders struct {
	Primary string `yaml:"primary" validate:"required,oneof=anthropic openai google groq"`
	Model   string `yaml:"model" validate:"required"`
}

// Providers is the providers.* config subtree.
type Providers struct {
	STT        STTProviders `yaml:"stt" validate:"required"`
	LLM        LLMProviders `yaml:"llm" validate:"required"`
	Moderation []string     `yaml:"moderation" validate:"dive,oneof=openai anthropic"`
}

// TargetLength mirrors domain.TargetLength with validation bounds:
// min 1..100, max 20..200, and min must not exceed max.
type TargetLength struct {
	Min int `yaml:"min" validate:"min=1,max=100"`
	Max int `yaml:"max" validate:"min=20,max=200"`
}

// EmojiPolicy mirrors domain.EmojiPolicy with its bound ("emoji max 0..5").
type EmojiPolicy struct {
	Enabled       bool     `yaml:"enabled"`
	MaxCount      int      `yaml:"maxCount" validate:"min=0,max=5"`
	AllowedEmojis []string `yaml:"allowedEmojis"`
}

// Comment is the comment.* config subtree.
type Comment struct {
	Tone                  string       `yaml:"tone" validate:"required,oneof=friendly neutral hype analytical"`
	CharacterPersona      string       `yaml:"characterPersona" validate:"required"`
	EncouragedExpressions []string     `yaml:"encouragedExpressions"`
	ForbiddenTerms        []string     `yaml:"forbiddenTerms"`
	TargetLength          TargetLength `yaml:"targetLength" validate:"required"`
	EmojiPolicy           EmojiPolicy  `yaml:"emojiPolicy"`
}

// Thresholds is the safety.thresholds subtree; keys are
// domain.ModerationCategory strings, values constrained to [0,1].
type Thresholds map[string]float64

// Safety is the safety.* config subtree.
type Safety struct {
	Enabled            bool       `yaml:"enabled"`
	Level              string     `yaml:"level" validate:"required,oneof=strict standard relaxed"`
	BlockOnUncertainty bool       `yaml:"blockOnUncertainty"`
	Thresholds         Thresholds `yaml:"thresholds"`
}

// RateLimit is the rateLimit.* config subtree. The sliding window must
// be at least 1 second; the minimum interval is bounded to 0..300 seconds.
type RateLimit struct {
	MessagesPerWindow  int `yaml:"messagesPerWindow" validate:"min=1"`
	WindowSeconds      int `yaml:"windowSeconds" validate:"min=1"`
	MinIntervalSeconds int `yaml:"minIntervalSeconds" validate:"min=0,max=300"`
}

// Credentials holds connection secrets. This whole subtree is a
// protected path: SyncEngine strips it from any remote document before
// merging, so a compromised or stale remote store can never overwrite
// local credentials.
type Credentials struct {
	APIKeys map[string]string `yaml:"apiKeys"`
	Tokens  map[string]string `yaml:"tokens"`
}

// Document is the full typed configuration tree.
type Document struct {
	Providers   Providers   `yaml:"providers" validate:"required"`
	Comment     Comment     `yaml:"comment" validate:"required"`
	Safety      Safety      `yaml:"safety" validate:"required"`
	RateLimit   RateLimit   `yaml:"rateLimit" validate:"required"`
	Credentials Credentials `yaml:"credentials"`

	// LastModified tracks a per-section timestamp, used by the
	// "timestamp" merge strategy: the newer lastModified entry wins per
	// section. Section granularity (providers/comment/safety/rateLimit)
	// is used rather than per-leaf-field, since the document itself is
	// organized into those four sections.
	LastModified map[string]time.Time `yaml:"-"`
}

// DefaultDocument returns a minimal, valid Document suitable as a
// starting point when no on-disk configuration exists yet.
func DefaultDocument() *Document {
	return &Document{
		Providers: Providers{
			STT: STTProviders{Primary: "groq"},
			LLM: LLMProviders{Primary: "groq", Model: "llama-3.3-70b-versatile"},
		},
		Comment: Comment{
			Tone:             "neutral",
			CharacterPersona: "a friendly stream co-host",
			TargetLength:     TargetLength{Min: 20, Max: 120},
			EmojiPolicy:      EmojiPolicy{Enabled: true, MaxCount: 1},
		},
		Safety: Safety{
			Enabled: true,
			Level:   "standard",
		},
		RateLimit: RateLimit{
			MessagesPerWindow:  20,
			WindowSeconds:      600,
			MinIntervalSeconds: 15,
		},
		LastModified: make(map[string]time.Time),
	}
}

var validate = validator.New()

// Validate checks every numeric bound and enumerated value, plus the
// cross-field min<=max constraint validator tags alone can't express.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	if d.Comment.TargetLength.Min > d.Comment.TargetLength.Max {
		return &ValidationError{Field: "comment.targetLength", Reason: "min must be <= max"}
	}
	for cat, v := range d.Safety.Thresholds {
		if v < 0 || v > 1 {
			return &ValidationError{Field: "safety.thresholds." + cat, Reason: "must be in [0,1]"}
		}
	}
	return nil
}

// ValidationError is returned for cross-field constraints the struct
// tags cannot express directly.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

// ToCommentPolicy projects the comment subtree into the domain shape
// the PolicyEngine consumes.
func (d *Document) ToCommentPolicy() domain.CommentPolicy {
	return domain.CommentPolicy{
		Tone:                  d.Comment.Tone,
		Persona:               d.Comment.CharacterPersona,
		EncouragedExpressions: d.Comment.EncouragedExpressions,
		ForbiddenTerms:        d.Comment.ForbiddenTerms,
		Emoji: domain.EmojiPolicy{
			Enabled:       d.Comment.EmojiPolicy.Enabled,
			MaxCount:      d.Comment.EmojiPolicy.MaxCount,
			AllowedEmojis: d.Comment.EmojiPolicy.AllowedEmojis,
		},
		TargetLength: domain.TargetLength{Min: d.Comment.TargetLength.Min, Max: d.Comment.TargetLength.Max},
	}
}

// ToSafetyPolicy projects the safety subtree into the domain shape the
// ModerationManager consumes.
func (d *Document) ToSafetyPolicy() domain.SafetyPolicy {
	thresholds := make(domain.ThresholdTable, len(d.Safety.Thresholds))
	for cat, v := range d.Safety.Thresholds {
		thresholds[domain.ModerationCategory(cat)] = v
	}
	return domain.SafetyPolicy{
		Enabled:            d.Safety.Enabled,
		Level:              domain.SafetyLevel(d.Safety.Level),
		BlockOnUncertainty: d.Safety.BlockOnUncertainty,
		Thresholds:         thresholds,
	}
}

// Clone returns a deep copy, used by callers that want a copy-on-write
// snapshot to hand to a sub-component.
func (d *Document) Clone() *Document {
	clone := *d
	clone.Providers.STT.Fallback = append([]string(nil), d.Providers.STT.Fallback...)
	clone.Providers.Moderation = append([]string(nil), d.Providers.Moderation...)
	clone.Comment.EncouragedExpressions = append([]string(nil), d.Comment.EncouragedExpressions...)
	clone.Comment.ForbiddenTerms = append([]string(nil), d.Comment.ForbiddenTerms...)
	clone.Comment.EmojiPolicy.AllowedEmojis = append([]string(nil), d.Comment.EmojiPolicy.AllowedEmojis...)

	clone.Safety.Thresholds = make(Thresholds, len(d.Safety.Thresholds))
	for k, v := range d.Safety.Thresholds {
		clone.Safety.Thresholds[k] = v
	}

	clone.Credentials.APIKeys = copyMap(d.Credentials.APIKeys)
	clone.Credentials.Tokens = copyMap(d.Credentials.Tokens)

	clone.LastModified = make(map[string]time.Time, len(d.LastModified))
	for k, v := range d.LastModified {
		clone.LastModified[k] = v
	}
	return &clone
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
