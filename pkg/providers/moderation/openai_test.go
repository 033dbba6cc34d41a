package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

func TestOpenAIModerationModerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := struct {
			Results []struct {
				CategoryScores map[string]float64 `json:"category_scores"`
			} `json:"results"`
		}{
			Results: []struct {
				CategoryScores map[string]float64 `json:"category_scores"`
			}{
				{CategoryScores: map[string]float64{"hate": 0.1, "violence/graphic": 0.9}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	o := &OpenAIModeration{apiKey: "test-key", moderationURL: server.URL}

	verdict, err := o.Moderate(context.Background(), "some text", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.CategoryScores[domain.CategoryGraphic] != 0.9 {
		t.Errorf("expected graphic score 0.9, got %v", verdict.CategoryScores[domain.CategoryGraphic])
	}
	if o.Name() != "openai" {
		t.Errorf("expected openai, got %s", o.Name())
	}
}

func TestOpenAIModerationRewriteContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{
				{Message: struct {
					Content string `json:"content"`
				}{Content: "a cleaner comment"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	o := &OpenAIModeration{apiKey: "test-key", completionsURL: server.URL, rewriteModel: "gpt-4o-mini"}

	outcome, err := o.RewriteContent(context.Background(), "a bad comment", "be nice", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Rewritten != "a cleaner comment" {
		t.Errorf("expected 'a cleaner comment', got %q", outcome.Rewritten)
	}
	if !outcome.WasRewritten {
		t.Error("expected WasRewritten true")
	}
}
