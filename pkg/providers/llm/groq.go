package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// GroqLLM talks to Groq's OpenAI-compatible chat-completions endpoint.
type GroqLLM struct {
	apiKey string
	url    string
	model  string
}

// NewGroqLLM builds a GroqLLM client. model defaults to
// llama-3.3-70b-versatile.
func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqLLM{apiKey: apiKey, url: "https://api.groq.com/openai/v1/chat/completions", model: model}
}

func (l *GroqLLM) Name() string { return "groq-llm" }

func (l *GroqLLM) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.groq.com/openai/v1/models", l.apiKey)
}

func (l *GroqLLM) Chat(ctx context.Context, messages []domain.Message, options providers.ChatOptions) (providers.ChatResult, error) {
	model := l.model
	if options.Model != "" {
		model = options.Model
	}
	payload := map[string]interface{}{"model": model, "messages": messages}
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

func (l *GroqLLM) GenerateComment(ctx context.Context, gctx providers.GenerationContext) (providers.GeneratedComment, error) {
	result, err := l.Chat(ctx, buildCommentMessages(gctx), providers.ChatOptions{Temperature: 0.9})
	if err != nil {
		return providers.GeneratedComment{}, err
	}
	return providers.GeneratedComment{Comment: result.Message, Confidence: 0.8}, nil
}

func (l *GroqLLM) ClassifyOpportunity(ctx context.Context, gctx providers.GenerationContext) (providers.ClassifiedOpportunity, error) {
	result, err := l.Chat(ctx, buildOpportunityMessages(gctx), providers.ChatOptions{Temperature: 0})
	if err != nil {
		return providers.ClassifiedOpportunity{}, err
	}
	return parseOpportunityResponse(result.Message)
}
