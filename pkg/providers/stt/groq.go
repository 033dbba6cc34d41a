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

// GroqSTT transcribes batches through Groq's OpenAI-compatible Whisper
// endpoint. Like OpenAISTT it is batch-only.
type GroqSTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

// NewGroqSTT builds a GroqSTT client. model defaults to
// whisper-large-v3-turbo.
func NewGroqSTT(apiKey string, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: 44100,
	}
}

// SetSampleRate overrides the rate used to frame raw PCM as WAV.
func (s *GroqSTT) SetSampleRate(rate int) { s.sampleRate = rate }

func (s *GroqSTT) Name() string { return "groq-stt" }

func (s *GroqSTT) Healthy(ctx context.Context) bool {
	return probeReachable(ctx, "https://api.groq.com/openai/v1/models", s.apiKey)
}

func (s *GroqSTT) Transcribe(ctx context.Context, audioPCM []byte, language string) (domain.Transcript, error) {
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
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
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

// Stream is unsupported: Groq's whisper endpoint is batch-only.
func (s *GroqSTT) Stream(ctx context.Context, language string, onTranscript func(domain.Transcript) error) (chan<- domain.AudioFrame, error) {
	return nil, providers.NewFatal(s.Name(), fmt.Errorf("streaming not supported"))
}
