package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// AnthropicModeration has no dedicated moderation endpoint to call, so
// it asks Claude to score the same category set used elsewhere in this
// package and parses the reply as the verdict.
type AnthropicModeration struct {
	apiKey string
	url    string
	model  string
}

// NewAnthropicModeration builds an AnthropicModeration client.
func NewAnthropicModeration(apiKey string) *AnthropicModeration {
	return &AnthropicModeration{apiKey: apiKey, url: "https://api.anthropic.com/v1/messages", model: "claude-3-5-haiku-20241022"}
}

func (a *AnthropicModeration) Name() string { return "anthropic" }

func (a *AnthropicModeration) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.anthropic.com/v1/models", "")
}

type categoryScores struct {
	Hate       float64 `json:"hate"`
	Harassment float64 `json:"harassment"`
	SelfHarm   float64 `json:"self_harm"`
	Sexual     float64 `json:"sexual"`
	Violence   float64 `json:"violence"`
	Illegal    float64 `json:"illegal"`
	Graphic    float64 `json:"graphic"`
}

func (c categoryScores) toMap() map[domain.ModerationCategory]float64 {
	return map[domain.ModerationCategory]float64{
		domain.CategoryHate:       c.Hate,
		domain.CategoryHarassment: c.Harassment,
		domain.CategorySelfHarm:   c.SelfHarm,
		domain.CategorySexual:     c.Sexual,
		domain.CategoryViolence:   c.Violence,
		domain.CategoryIllegal:    c.Illegal,
		domain.CategoryGraphic:    c.Graphic,
	}
}

func (a *AnthropicModeration) Moderate(ctx context.Context, text string, gctx *providers.GenerationContext) (domain.ModerationVerdict, error) {
	scores, err := a.score(ctx, text)
	if err != nil {
		return domain.ModerationVerdict{}, err
	}
	return domain.ModerationVerdict{CategoryScores: scores.toMap(), Provider: a.Name()}, nil
}

func (a *AnthropicModeration) ModerateBatch(ctx context.Context, texts []string) ([]domain.ModerationVerdict, error) {
	verdicts := make([]domain.ModerationVerdict, len(texts))
	for i, text := range texts {
		verdict, err := a.Moderate(ctx, text, nil)
		if err != nil {
			return nil, err
		}
		verdicts[i] = verdict
	}
	return verdicts, nil
}

func (a *AnthropicModeration) score(ctx context.Context, text string) (categoryScores, error) {
	system := `Score the given text from 0.0 to 1.0 on each of these moderation categories: hate, harassment, self_harm, sexual, violence, illegal, graphic.
Reply with ONLY a JSON object with those seven keys and float values.`
	user := fmt.Sprintf("Text: %q", text)

	raw, err := a.complete(ctx, system, user)
	if err != nil {
		return categoryScores{}, err
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var scores categoryScores
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return categoryScores{}, providers.NewRetryable(a.Name(), fmt.Errorf("parse score response: %w", err))
	}
	return scores, nil
}

func (a *AnthropicModeration) RewriteContent(ctx context.Context, text string, guidelines string, gctx *providers.GenerationContext) (domain.RewriteOutcome, error) {
	system := "You rewrite live-stream chat comments to comply with moderation guidelines while preserving intent and length. Reply with ONLY the rewritten comment."
	user := fmt.Sprintf("Guidelines: %s\nComment: %q", guidelines, text)

	rewritten, err := a.complete(ctx, system, user)
	if err != nil {
		return domain.RewriteOutcome{}, err
	}
	return domain.RewriteOutcome{Original: text, Rewritten: strings.TrimSpace(rewritten), WasRewritten: true}, nil
}

func (a *AnthropicModeration) complete(ctx context.Context, system, user string) (string, error) {
	payload := map[string]interface{}{
		"model":      a.model,
		"system":     system,
		"max_tokens": 512,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", providers.NewFatal(a.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return "", providers.NewFatal(a.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", providers.NewRetryable(a.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(a.Name(), resp); err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", providers.NewRetryable(a.Name(), err)
	}
	if len(result.Content) == 0 {
		return "", providers.NewRetryable(a.Name(), fmt.Errorf("no content returned"))
	}
	return result.Content[0].Text, nil
}
