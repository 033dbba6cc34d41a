// Package stt holds concrete STTProvider clients for real third-party
// speech-to-text services. Each wraps a single HTTP(S) endpoint behind
// the providers.StreamingSTTProvider contract so the FailoverController
// and STTPipeline never see a provider-specific shape.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/audio"
	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// OpenAISTT transcribes batches through OpenAI's /v1/audio/transcriptions
// endpoint (Whisper). It does not support streaming; Stream always
// returns a fatal error so a caller relying on StreamingSTTProvider
// fails fast instead of hanging.
type OpenAISTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

// NewOpenAISTT builds an OpenAISTT client. model defaults to whisper-1.
func NewOpenAISTT(apiKey string, model string) *OpenAISTT {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAISTT{
		apiKey:     apiKey,
		url:        "https://api.openai.com/v1/audio/transcriptions",
		model:      model,
		sampleRate: 44100,
	}
}

// SetSampleRate overrides the rate used to frame raw PCM as WAV.
func (s *OpenAISTT) SetSampleRate(rate int) { s.sampleRate = rate }

func (s *OpenAISTT) Name() string { return "openai-stt" }

// Healthy does a cheap reachability probe; the transcription endpoint
// has no dedicated health check, so a GET against the models listing
// stands in for "is the network path up".
func (s *OpenAISTT) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.openai.com/v1/models", s.apiKey)
}

func (s *OpenAISTT) Transcribe(ctx context.Context, audioPCM []byte, language string) (domain.Transcript, error) {
	wavData := audio.NewWavBuffer(audioPCM, s.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return domain.Transcript{}, providers.NewFatal(s.Name(), err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return domain.Transcript{}, providers.NewFatal(s.Name(), err)
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return domain.Transcript{}, providers.NewFatal(s.Name(), err)
	}
	if _, err := part.Write(wavData); err != nil {
		return domain.Transcript{}, providers.NewFatal(s.Name(), err)
	}
	if err := writer.Close(); err != nil {
		return domain.Transcript{}, providers.NewFatal(s.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return domain.Transcript{}, providers.NewFatal(s.Name(), err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.Transcript{}, providers.NewRetryable(s.Name(), err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(s.Name(), resp); err != nil {
		return domain.Transcript{}, err
	}

	var result struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Transcript{}, providers.NewRetryable(s.Name(), err)
	}

	return domain.Transcript{
		Text:       result.Text,
		Confidence: 1,
		Language:   result.Language,
		Timestamp:  time.Now(),
		Provider:   s.Name(),
		IsFinal:    true,
		Segments:   []domain.Segment{{Text: result.Text, StartSec: 0, EndSec: result.Duration, Confidence: 1}},
	}, nil
}

// Stream is unsupported: OpenAI's transcription endpoint is batch-only.
func (s *OpenAISTT) Stream(ctx context.Context, language string, onTranscript func(domain.Transcript) error) (chan<- domain.AudioFrame, error) {
	return nil, providers.NewFatal(s.Name(), fmt.Errorf("streaming not supported"))
}

// classifyStatus maps an HTTP response's status code to a retryable or
// fatal ProviderError: network/timeout/429/5xx are retryable, auth and
// validation failures are not.
func classifyStatus(provider string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	respBody, _ := io.ReadAll(resp.Body)
	err := fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return providers.NewRetryable(provider, err)
	default:
		return providers.NewFatal(provider, err)
	}
}

// probeReachable issues a lightweight authenticated GET and treats any
// response (even a 4xx, which still proves the path and key are being
// evaluated) as healthy; only a transport-level failure is unhealthy.
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
