package llm

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

// OpenAILLM talks to OpenAI's /v1/chat/completions endpoint.
type OpenAILLM struct {
	apiKey string
	url    string
	model  string
}

// NewOpenAILLM builds an OpenAILLM client. model defaults to gpt-4o.
func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{apiKey: apiKey, url: "https://api.openai.com/v1/chat/completions", model: model}
}

func (l *OpenAILLM) Name() string { return "openai-llm" }

func (l *OpenAILLM) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.openai.com/v1/models", l.apiKey)
}

func (l *OpenAILLM) Chat(ctx context.Context, messages []domain.Message, options providers.ChatOptions) (providers.ChatResult, error) {
	model := l.model
	if options.Model != "" {
		model = options.Model
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if options.Temperature != 0 {
		payload["temperature"] = options.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return providers.ChatResult{}, providers.NewFatal(l.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return providers.ChatResult{}, providers.NewFatal(l.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(l.Name(), resp); err != nil {
		return providers.ChatResult{}, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), err)
	}
	if len(result.Choices) == 0 {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), fmt.Errorf("no choices returned"))
	}

	return providers.ChatResult{
		Message: result.Choices[0].Message.Content,
		Usage: providers.TokenUsage{
			Prompt:     result.Usage.PromptTokens,
			Completion: result.Usage.CompletionTokens,
			Total:      result.Usage.TotalTokens,
		},
	}, nil
}

func (l *OpenAILLM) GenerateComment(ctx context.Context, gctx providers.GenerationContext) (providers.GeneratedComment, error) {
	result, err := l.Chat(ctx, buildCommentMessages(gctx), providers.ChatOptions{Temperature: 0.9})
	if err != nil {
		return providers.GeneratedComment{}, err
	}
	return providers.GeneratedComment{Comment: result.Message, Confidence: 0.8}, nil
}

func (l *OpenAILLM) ClassifyOpportunity(ctx context.Context, gctx providers.GenerationContext) (providers.ClassifiedOpportunity, error) {
	result, err := l.Chat(ctx, buildOpportunityMessages(gctx), providers.ChatOptions{Temperature: 0})
	if err != nil {
		return providers.ClassifiedOpportunity{}, err
	}
	return parseOpportunityResponse(result.Message)
}

// classifyStatus maps an HTTP response's status code to a retryable or
// fatal ProviderError: network/timeout/429/5xx are retryable, auth and
// validation failures are not.
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

// probeReachable issues a lightweight authenticated GET and treats any
// response as healthy; only a transport-level failure is unhealthy.
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
