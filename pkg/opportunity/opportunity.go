// Package opportunity implements the OpportunityDetector: a rule layer,
// an optional LLM classifier, and an engagement-based lean, combined
// with rule-layer-wins-ties semantics.
package opportunity

import (
	"context"
	"strings"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// defaultQuestionMarkers are invitation/question phrases that indicate
// the broadcaster is inviting a response.
var defaultQuestionMarkers = []string{
	"どう思う", "どうですか", "みんなは", "コメントして", "教えて",
}

// defaultTransitionMarkers indicate the broadcaster is moving on, which
// makes a comment right now unnecessary.
var defaultTransitionMarkers = []string{
	"次のスライド", "次へ行きます", "話を変えます", "next slide", "let me switch",
}

// Config holds the configurable marker lists and whether LLM
// classification is enabled.
type Config struct {
	QuestionMarkers    []string
	TransitionMarkers  []string
	UseLLMClassifier   bool
}

// DefaultConfig returns the built-in marker lists with the LLM
// classifier disabled.
func DefaultConfig() Config {
	return Config{QuestionMarkers: defaultQuestionMarkers, TransitionMarkers: defaultTransitionMarkers}
}

// Detector classifies whether the current moment is an opportunity to
// generate a comment.
type Detector struct {
	cfg Config
	llm providers.LLMProvider // nil disables LLM classification regardless of cfg
}

// New builds a Detector. llm may be nil even when cfg.UseLLMClassifier
// is true, in which case the LLM step is simply skipped.
func New(cfg Config, llm providers.LLMProvider) *Detector {
	return &Detector{cfg: cfg, llm: llm}
}

// SetConfig replaces the active marker lists. It takes no lock, so it
// is not safe to call concurrently with Classify.
func (d *Detector) SetConfig(cfg Config) {
	d.cfg = cfg
}

// Classify runs the rule layer, then the optional LLM classifier, then
// the engagement-based lean, against text and snapshot.
func (d *Detector) Classify(ctx context.Context, text string, snapshot domain.ContextSnapshot) domain.Opportunity {
	if containsAny(text, d.cfg.QuestionMarkers) {
		return domain.Opportunity{Label: domain.OpportunityNecessary, Confidence: 0.9, Reason: "question_or_invitation_marker"}
	}
	if containsAny(text, d.cfg.TransitionMarkers) {
		return domain.Opportunity{Label: domain.OpportunityUnnecessary, Confidence: 0.8, Reason: "transition_marker"}
	}

	ruleResult := d.engagementLean(snapshot)

	if d.cfg.UseLLMClassifier && d.llm != nil {
		llmResult, err := d.llm.ClassifyOpportunity(ctx, providers.GenerationContext{Snapshot: snapshot, Text: text})
		if err == nil {
			return resolveTie(ruleResult, domain.Opportunity{
				Label:      llmResult.Label,
				Confidence: llmResult.Confidence,
				Reason:     "llm_classification",
			})
		}
	}

	return ruleResult
}

// engagementLean leans toward necessary/unnecessary/hold based purely
// on the snapshot's engagement score, as a fallback when neither marker
// list matched.
func (d *Detector) engagementLean(snapshot domain.ContextSnapshot) domain.Opportunity {
	switch {
	case snapshot.Engagement > 0.7:
		return domain.Opportunity{Label: domain.OpportunityNecessary, Confidence: snapshot.Engagement, Reason: "high_engagement"}
	case snapshot.Engagement < 0.3:
		return domain.Opportunity{Label: domain.OpportunityUnnecessary, Confidence: 1 - snapshot.Engagement, Reason: "low_engagement"}
	default:
		return domain.Opportunity{Label: domain.OpportunityHold, Confidence: 0.5, Reason: "neutral_engagement"}
	}
}

// resolveTie prefers the rule-layer result over the LLM's whenever
// their confidences tie.
func resolveTie(rule, llm domain.Opportunity) domain.Opportunity {
	if llm.Confidence > rule.Confidence {
		return llm
	}
	return rule
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if m == "" {
			continue
		}
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
