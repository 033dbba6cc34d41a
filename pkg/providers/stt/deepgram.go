package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
	"github.com/lokutor-ai/stream-commentator/pkg/sttpipeline"
)

// DeepgramSTT transcribes both in a single batch call and, unlike the
// Whisper-family clients in this package, over a live websocket
// session (Deepgram's streaming /v1/listen endpoint).
type DeepgramSTT struct {
	apiKey     string
	batchURL   string
	streamHost string
}

// NewDeepgramSTT builds a DeepgramSTT client.
func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey:     apiKey,
		batchURL:   "https://api.deepgram.com/v1/listen",
		streamHost: "api.deepgram.com",
	}
}

func (s *DeepgramSTT) Name() string { return "deepgram-stt" }

func (s *DeepgramSTT) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.deepgram.com/v1/projects", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := http.DefaultClient.Do(req.WithContext(probeCtx))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}

func (s *DeepgramSTT) Transcribe(ctx context.Context, audioPCM []byte, language string) (domain.Transcript, error) {
	u, err := url.Parse(s.batchURL)
	if err != nil {
		return domain.Transcript{}, providers.NewFatal(s.Name(), err)
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if language != "" {
		params.Set("language", language)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audioPCM))
	if err != nil {
		return domain.Transcript{}, providers.NewFatal(s.Name(), err)
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "audio/l16; rate=44100; channels=1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.Transcript{}, providers.NewRetryable(s.Name(), err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(s.Name(), resp); err != nil {
		return domain.Transcript{}, err
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
					Words      []struct {
						Word       string  `json:"word"`
						Start      float64 `json:"start"`
						End        float64 `json:"end"`
						Confidence float64 `json:"confidence"`
					} `json:"words"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.Transcript{}, providers.NewRetryable(s.Name(), err)
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return domain.Transcript{Provider: s.Name(), IsFinal: true, Timestamp: time.Now()}, nil
	}

	alt := result.Results.Channels[0].Alternatives[0]
	words := make([]sttpipeline.WordTiming, len(alt.Words))
	for i, w := range alt.Words {
		words[i] = sttpipeline.WordTiming{Word: w.Word, StartSec: w.Start, EndSec: w.End, Confidence: w.Confidence}
	}

	return domain.Transcript{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Language:   language,
		Timestamp:  time.Now(),
		Provider:   s.Name(),
		IsFinal:    true,
		Segments:   sttpipeline.SynthesizeSegments(alt.Transcript, words, 0, 0, alt.Confidence),
	}, nil
}

// deepgramMessage is the subset of Deepgram's streaming result message
// this client decodes.
type deepgramMessage struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Stream opens a live websocket session against Deepgram's streaming
// endpoint, forwarding AudioFrames as binary messages and decoding each
// result message into a Transcript delivered through onTranscript.
func (s *DeepgramSTT) Stream(ctx context.Context, language string, onTranscript func(domain.Transcript) error) (chan<- domain.AudioFrame, error) {
	u := url.URL{Scheme: "wss", Host: s.streamHost, Path: "/v1/listen"}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("interim_results", "true")
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Token " + s.apiKey}},
	})
	if err != nil {
		return nil, providers.NewRetryable(s.Name(), fmt.Errorf("dial: %w", err))
	}

	frames := make(chan domain.AudioFrame, 64)

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, frame.PCM); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		for {
			var msg deepgramMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			t := domain.Transcript{
				Text:       alt.Transcript,
				Confidence: alt.Confidence,
				Language:   language,
				Timestamp:  time.Now(),
				Provider:   s.Name(),
				IsFinal:    msg.IsFinal,
				Segments:   []domain.Segment{{Text: alt.Transcript, Confidence: alt.Confidence}},
			}
			if onTranscript(t) != nil {
				return
			}
		}
	}()

	return frames, nil
}
