// Package llm holds concrete LLMProvider clients for real third-party
// chat-completion services (OpenAI, Anthropic, Google, Groq). Each
// wraps a single HTTP(S) endpoint behind the providers.LLMProvider
// contract; this file holds the prompt-building and response-parsing
// logic shared across all four.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// buildCommentMessages renders a generate-a-comment request as a
// system/user message pair describing the persona, tone, and rolling
// conversational context.
func buildCommentMessages(gctx providers.GenerationContext) []domain.Message {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, a live-stream chat commentator with a %s tone.", gctx.Policy.Persona, gctx.Policy.Tone)
	if len(gctx.Policy.EncouragedExpressions) > 0 {
		fmt.Fprintf(&sys, " Favor expressions like: %s.", strings.Join(gctx.Policy.EncouragedExpressions, ", "))
	}
	fmt.Fprintf(&sys, " Reply with a single short chat comment between %d and %d characters, nothing else.",
		gctx.Policy.TargetLength.Min, gctx.Policy.TargetLength.Max)

	var user strings.Builder
	if len(gctx.Snapshot.Topics) > 0 {
		fmt.Fprintf(&user, "Recent topics: %s\n", strings.Join(gctx.Snapshot.Topics, ", "))
	}
	fmt.Fprintf(&user, "Just heard: %q", gctx.Text)

	return []domain.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

// opportunityResponse is the JSON shape the classification prompt asks
// the model to reply with.
type opportunityResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// buildOpportunityMessages renders a classify-opportunity request,
// instructing the model to answer with a single JSON object so the
// response can be parsed without a free-form NLU step.
func buildOpportunityMessages(gctx providers.GenerationContext) []domain.Message {
	sys := `You classify whether a live-stream chat bot should comment right now.
Reply with ONLY a JSON object: {"label": "necessary"|"unnecessary"|"hold", "confidence": 0.0-1.0, "reason": "short reason"}.`
	user := fmt.Sprintf("Transcript: %q\nEngagement: %.2f", gctx.Text, gctx.Snapshot.Engagement)
	return []domain.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: user},
	}
}

// parseOpportunityResponse decodes the model's JSON verdict, tolerating
// a response wrapped in a code fence.
func parseOpportunityResponse(raw string) (providers.ClassifiedOpportunity, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed opportunityResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return providers.ClassifiedOpportunity{}, fmt.Errorf("parse opportunity response: %w", err)
	}
	label := domain.OpportunityLabel(parsed.Label)
	switch label {
	case domain.OpportunityNecessary, domain.OpportunityUnnecessary, domain.OpportunityHold:
	default:
		label = domain.OpportunityHold
	}
	return providers.ClassifiedOpportunity{Label: label, Confidence: parsed.Confidence, Reason: parsed.Reason}, nil
}
