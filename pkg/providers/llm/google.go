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

// GoogleLLM talks to Gemini's generateContent endpoint.
type GoogleLLM struct {
	apiKey string
	url    string
	model  string
}

// NewGoogleLLM builds a GoogleLLM client. model defaults to
// gemini-1.5-flash.
func NewGoogleLLM(apiKey string, model string) *GoogleLLM {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GoogleLLM{
		apiKey: apiKey,
		url:    fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", model),
		model:  model,
	}
}

func (l *GoogleLLM) Name() string { return "google-llm" }

func (l *GoogleLLM) Healthy(ctx context.Context) bool {
	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models?key=%s", l.apiKey)
	return probeReachable(ctx, url, "")
}

// Chat maps domain.Message roles onto Gemini's role vocabulary: system
// becomes a leading user turn and assistant becomes "model".
func (l *GoogleLLM) Chat(ctx context.Context, messages []domain.Message, options providers.ChatOptions) (providers.ChatResult, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	var contents []content
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user":
			role = "user"
		case "assistant":
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: msg.Content}}})
	}

	payload := map[string]interface{}{"contents": contents}
	if options.Temperature != 0 {
		payload["generationConfig"] = map[string]interface{}{"temperature": options.Temperature}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return providers.ChatResult{}, providers.NewFatal(l.Name(), err)
	}

	url := l.url
	if options.Model != "" && options.Model != l.model {
		url = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", options.Model)
	}
	url += "?key=" + l.apiKey

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return providers.ChatResult{}, providers.NewFatal(l.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(l.Name(), resp); err != nil {
		return providers.ChatResult{}, err
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return providers.ChatResult{}, providers.NewRetryable(l.Name(), fmt.Errorf("no candidates returned"))
	}

	return providers.ChatResult{
		Message: result.Candidates[0].Content.Parts[0].Text,
		Usage: providers.TokenUsage{
			Prompt:     result.UsageMetadata.PromptTokenCount,
			Completion: result.UsageMetadata.CandidatesTokenCount,
			Total:      result.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (l *GoogleLLM) GenerateComment(ctx context.Context, gctx providers.GenerationContext) (providers.GeneratedComment, error) {
	result, err := l.Chat(ctx, buildCommentMessages(gctx), providers.ChatOptions{Temperature: 0.9})
	if err != nil {
		return providers.GeneratedComment{}, err
	}
	return providers.GeneratedComment{Comment: result.Message, Confidence: 0.8}, nil
}

func (l *GoogleLLM) ClassifyOpportunity(ctx context.Context, gctx providers.GenerationContext) (providers.ClassifiedOpportunity, error) {
	result, err := l.Chat(ctx, buildOpportunityMessages(gctx), providers.ChatOptions{Temperature: 0})
	if err != nil {
		return providers.ClassifiedOpportunity{}, err
	}
	return parseOpportunityResponse(result.Message)
}
