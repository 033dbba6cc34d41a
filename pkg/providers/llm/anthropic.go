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

// AnthropicLLM talks to Anthropic's /v1/messages endpoint.
type AnthropicLLM struct {
	apiKey string
	url    string
	model  string
}

// NewAnthropicLLM builds an AnthropicLLM client. model defaults to
// claude-3-5-sonnet-20241022.
func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicLLM{apiKey: apiKey, url: "https://api.anthropic.com/v1/messages", model: model}
}

func (l *AnthropicLLM) Name() string { return "anthropic-llm" }

func (l *AnthropicLLM) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.anthropic.com/v1/models", "")
}

// Chat extracts system messages into Anthropic's separate "system"
// field since its wire format doesn't accept a system role inline.
func (l *AnthropicLLM) Chat(ctx context.Context, messages []domain.Message, options providers.ChatOptions) (providers.ChatResult, error) {
	model := l.model
	if options.Model != "" {
		model = options.Model
	}

	var system string
	var anthropicMessages []map[string]string
	for _, msg := range messages {
		if msg.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += msg.Content
			continue
		}
		anthropicMessages = append(anthropicMessages, map[string]string{"role": msg.Role, "content": msg.Content})
	}

	payload := map[string]interface{}{
		"model":      model,
		"messages":   anthropicMessages,
		"max_tokens": 1024,
	}
	if system != "" {
		payload["system"] = system
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
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(l.Name(), resp); err != nil {
		return providers.ChatResult{}, err
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), err)
	}
	if len(result.Content) == 0 {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), fmt.Errorf("no content returned"))
	}

	return providers.ChatResult{
		Message: result.Content[0].Text,
		Usage: providers.TokenUsage{
			Prompt:     result.Usage.InputTokens,
			Completion: result.Usage.OutputTokens,
			Total:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
	}, nil
}

func (l *AnthropicLLM) GenerateComment(ctx context.Context, gctx providers.GenerationContext) (providers.GeneratedComment, error) {
	result, err := l.Chat(ctx, buildCommentMessages(gctx), providers.ChatOptions{Temperature: 0.9})
	if err != nil {
		return providers.GeneratedComment{}, err
	}
	return providers.GeneratedComment{Comment: result.Message, Confidence: 0.8}, nil
}

func (l *AnthropicLLM) ClassifyOpportunity(ctx context.Context, gctx providers.GenerationContext) (providers.ClassifiedOpportunity, error) {
	result, err := l.Chat(ctx, buildOpportunityMessages(gctx), providers.ChatOptions{Temperature: 0})
	if err != nil {
		return providers.ClassifiedOpportunity{}, err
	}
	return parseOpportunityResponse(result.Message)
}
