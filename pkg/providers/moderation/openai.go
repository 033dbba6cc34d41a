// Package moderation holds concrete ModerationProvider clients.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// OpenAIModeration talks to OpenAI's /v1/moderations endpoint and uses
// chat completions for the guided-rewrite step, since moderation itself
// has no generative counterpart.
type OpenAIModeration struct {
	apiKey         string
	moderationURL  string
	completionsURL string
	rewriteModel   string
}

// NewOpenAIModeration builds an OpenAIModeration client.
func NewOpenAIModeration(apiKey string) *OpenAIModeration {
	return &OpenAIModeration{
		apiKey:         apiKey,
		moderationURL:  "https://api.openai.com/v1/moderations",
		completionsURL: "https://api.openai.com/v1/chat/completions",
		rewriteModel:   "gpt-4o-mini",
	}
}

func (o *OpenAIModeration) Name() string { return "openai" }

func (o *OpenAIModeration) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.openai.com/v1/models", o.apiKey)
}

// openAICategoryMap maps OpenAI's moderation category keys onto
// domain.ModerationCategory. OpenAI splits a few categories this
// taxonomy keeps merged; the merged score takes the max.
var openAICategoryMap = map[string]domain.ModerationCategory{
	"hate":                   domain.CategoryHate,
	"hate/threatening":       domain.CategoryHate,
	"harassment":             domain.CategoryHarassment,
	"harassment/threatening": domain.CategoryHarassment,
	"self-harm":              domain.CategorySelfHarm,
	"self-harm/intent":       domain.CategorySelfHarm,
	"self-harm/instructions": domain.CategorySelfHarm,
	"sexual":                 domain.CategorySexual,
	"sexual/minors":          domain.CategoryIllegal,
	"violence":               domain.CategoryViolence,
	"violence/graphic":       domain.CategoryGraphic,
}

func (o *OpenAIModeration) Moderate(ctx context.Context, text string, gctx *providers.GenerationContext) (domain.ModerationVerdict, error) {
	verdicts, err := o.ModerateBatch(ctx, []string{text})
	if err != nil {
		return domain.ModerationVerdict{}, err
	}
	return verdicts[0], nil
}

func (o *OpenAIModeration) ModerateBatch(ctx context.Context, texts []string) ([]domain.ModerationVerdict, error) {
	body, err := json.Marshal(map[string]interface{}{"input": texts})
	if err != nil {
		return nil, providers.NewFatal(o.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.moderationURL, bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewFatal(o.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, providers.NewRetryable(o.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(o.Name(), resp); err != nil {
		return nil, err
	}

	var result struct {
		Results []struct {
			CategoryScores map[string]float64 `json:"category_scores"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, providers.NewRetryable(o.Name(), err)
	}
	if len(result.Results) != len(texts) {
		return nil, providers.NewRetryable(o.Name(), fmt.Errorf("expected %d results, got %d", len(texts), len(result.Results)))
	}

	verdicts := make([]domain.ModerationVerdict, len(result.Results))
	for i, r := range result.Results {
		scores := make(map[domain.ModerationCategory]float64, len(domain.AllCategories))
		for key, score := range r.CategoryScores {
			cat, ok := openAICategoryMap[key]
			if !ok {
				continue
			}
			if existing, ok := scores[cat]; !ok || score > existing {
				scores[cat] = score
			}
		}
		verdicts[i] = domain.ModerationVerdict{CategoryScores: scores, Provider: o.Name()}
	}
	return verdicts, nil
}

func (o *OpenAIModeration) RewriteContent(ctx context.Context, text string, guidelines string, gctx *providers.GenerationContext) (domain.RewriteOutcome, error) {
	prompt := fmt.Sprintf("Rewrite the following live-stream chat comment so it complies with these guidelines: %s\nKeep the same intent and length range. Reply with ONLY the rewritten comment.\n\nComment: %q", guidelines, text)

	payload := map[string]interface{}{
		"model": o.rewriteModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.RewriteOutcome{}, providers.NewFatal(o.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.completionsURL, bytes.NewReader(body))
	if err != nil {
		return domain.RewriteOutcome{}, providers.NewFatal(o.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.RewriteOutcome{}, providers.NewRetryable(o.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(o.Name(), resp); err != nil {
		return domain.RewriteOutcome{}, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.RewriteOutcome{}, providers.NewRetryable(o.Name(), err)
	}
	if len(result.Choices) == 0 {
		return domain.RewriteOutcome{}, providers.NewRetryable(o.Name(), fmt.Errorf("no choices returned"))
	}

	return domain.RewriteOutcome{Original: text, Rewritten: result.Choices[0].Message.Content, WasRewritten: true}, nil
}

func classifyStatus(provider string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	err := fmt.Errorf("status %d", resp.StatusCode)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return providers.NewRetryable(provider, err)
	default:
		return providers.NewFatal(provider, err)
	}
}

func probeReachable(ctx context.Context, url, apiKey string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}
