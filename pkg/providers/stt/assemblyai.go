package stt

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

// AssemblyAISTT transcribes through AssemblyAI's upload -> submit ->
// poll workflow. It is batch-only; Stream reports unsupported.
type AssemblyAISTT struct {
	apiKey     string
	pollPeriod time.Duration
}

// NewAssemblyAISTT builds an AssemblyAISTT client.
func NewAssemblyAISTT(apiKey string) *AssemblyAISTT {
	return &AssemblyAISTT{apiKey: apiKey, pollPeriod: 500 * time.Millisecond}
}

func (s *AssemblyAISTT) Name() string { return "assemblyai-stt" }

func (s *AssemblyAISTT) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.assemblyai.com/v2/transcript", "")
}

func (s *AssemblyAISTT) Transcribe(ctx context.Context, audioPCM []byte, language string) (domain.Transcript, error) {
	uploadURL, err := s.upload(ctx, audioPCM)
	if err != nil {
		return domain.Transcript{}, err
	}

	transcriptID, err := s.submit(ctx, uploadURL, language)
	if err != nil {
		return domain.Transcript{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return domain.Transcript{}, providers.NewRetryable(s.Name(), ctx.Err())
		case <-time.After(s.pollPeriod):
			text, confidence, status, err := s.getTranscript(ctx, transcriptID)
			if err != nil {
				return domain.Transcript{}, err
			}
			switch status {
			case "completed":
				return domain.Transcript{
					Text:       text,
					Confidence: confidence,
					Language:   language,
					Timestamp:  time.Now(),
					Provider:   s.Name(),
					IsFinal:    true,
					Segments:   []domain.Segment{{Text: text, Confidence: confidence}},
				}, nil
			case "error":
				return domain.Transcript{}, providers.NewRetryable(s.Name(), fmt.Errorf("transcription failed"))
			}
		}
	}
}

// Stream is unsupported: AssemblyAI's upload/poll workflow has no
// push-based streaming shape in this client.
func (s *AssemblyAISTT) Stream(ctx context.Context, language string, onTranscript func(domain.Transcript) error) (chan<- domain.AudioFrame, error) {
	return nil, providers.NewFatal(s.Name(), fmt.Errorf("streaming not supported"))
}

func (s *AssemblyAISTT) upload(ctx context.Context, audioPCM []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/upload", bytes.NewReader(audioPCM))
	if err != nil {
		return "", providers.NewFatal(s.Name(), err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", providers.NewRetryable(s.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(s.Name(), resp); err != nil {
		return "", err
	}

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", providers.NewRetryable(s.Name(), err)
	}
	return result.UploadURL, nil
}

func (s *AssemblyAISTT) submit(ctx context.Context, uploadURL string, language string) (string, error) {
	payload := map[string]interface{}{"audio_url": uploadURL}
	if language != "" {
		payload["language_code"] = language
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", providers.NewFatal(s.Name(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.assemblyai.com/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", providers.NewFatal(s.Name(), err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", providers.NewRetryable(s.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(s.Name(), resp); err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", providers.NewRetryable(s.Name(), err)
	}
	return result.ID, nil
}

func (s *AssemblyAISTT) getTranscript(ctx context.Context, id string) (string, float64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.assemblyai.com/v2/transcript/"+id, nil)
	if err != nil {
		return "", 0, "", providers.NewFatal(s.Name(), err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, "", providers.NewRetryable(s.Name(), err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(s.Name(), resp); err != nil {
		return "", 0, "", err
	}

	var result struct {
		Status     string  `json:"status"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, "", providers.NewRetryable(s.Name(), err)
	}
	return result.Text, result.Confidence, result.Status, nil
}
