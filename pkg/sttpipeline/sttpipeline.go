// Package sttpipeline implements a batch transcribe operation with a
// hard size limit, and a streaming operation with bounded
// exponential-backoff reconnection over an ordered provider list.
package sttpipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/failover"
	"github.com/lokutor-ai/stream-commentator/pkg/logging"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// MaxBatchBytes is the hard size limit for a single batch transcribe call.
const MaxBatchBytes = 25 * 1024 * 1024

// EventType enumerates what Stream reports alongside transcripts.
type EventType string

const (
	EventReconnecting EventType = "reconnecting"
	EventReconnected  EventType = "reconnected"
	EventTerminal     EventType = "terminal_error"
)

// Event is one reconnection-lifecycle notification from Stream.
type Event struct {
	Type    EventType
	Attempt int
	Err     error
}

// ReconnectPolicy configures the streaming reconnect loop: up to
// MaxAttempts (K), exponential backoff from Base (B) capped at Max (C).
type ReconnectPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultReconnectPolicy is a reasonable default for a live broadcast
// session: frequent enough to recover quickly, bounded so a dead
// provider does not retry forever.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, Base: time.Second, Max: 30 * time.Second}
}

// Pipeline owns the provider failover controller for both batch and
// streaming transcription.
type Pipeline struct {
	controller *failover.Controller[providers.StreamingSTTProvider]
	reconnect  ReconnectPolicy
	logger     logging.Logger
}

// New builds a Pipeline over an ordered provider list.
func New(providerList []providers.StreamingSTTProvider, reconnect ReconnectPolicy, logger logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	ctrl, err := failover.New(logger, providerList...)
	if err != nil {
		return nil, err
	}
	return &Pipeline{controller: ctrl, reconnect: reconnect, logger: logger}, nil
}

// Transcribe runs the batch operation, enforcing the 25MB size limit
// before ever reaching a provider.
func (p *Pipeline) Transcribe(ctx context.Context, audioBytes []byte, language string) (domain.Transcript, error) {
	if len(audioBytes) > MaxBatchBytes {
		return domain.Transcript{}, providers.NewFatal("sttpipeline", fmt.Errorf("audio size %d exceeds %d byte limit", len(audioBytes), MaxBatchBytes))
	}

	var result domain.Transcript
	err := p.controller.Execute(ctx, func(ctx context.Context, prov providers.StreamingSTTProvider) error {
		t, err := prov.Transcribe(ctx, audioBytes, language)
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
}

// Stream opens a streaming session against the first healthy provider,
// reconnecting on transport error per p.reconnect. It returns the frame
// sink; transcripts are delivered through onTranscript and lifecycle
// notifications through onEvent.
func (p *Pipeline) Stream(ctx context.Context, language string, onTranscript func(domain.Transcript) error, onEvent func(Event)) (chan<- domain.AudioFrame, error) {
	frames := make(chan domain.AudioFrame, 64)

	go p.runStream(ctx, language, frames, onTranscript, onEvent)

	return frames, nil
}

func (p *Pipeline) runStream(ctx context.Context, language string, frames chan domain.AudioFrame, onTranscript func(domain.Transcript) error, onEvent func(Event)) {
	b := failover.BackoffSchedule(p.reconnect.Base, p.reconnect.Max)

	attempt := 0
	for {
		err := p.controller.Execute(ctx, func(ctx context.Context, prov providers.StreamingSTTProvider) error {
			sink, err := prov.Stream(ctx, language, onTranscript)
			if err != nil {
				return err
			}
			if attempt > 0 {
				onEvent(Event{Type: EventReconnected})
				b.Reset()
			}
			attempt = 0
			return pumpUntilClosed(ctx, frames, sink)
		})

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		attempt++
		if attempt > p.reconnect.MaxAttempts {
			onEvent(Event{Type: EventTerminal, Err: err})
			return
		}
		onEvent(Event{Type: EventReconnecting, Attempt: attempt})

		delay := b.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// pumpUntilClosed forwards frames from the caller-facing channel into
// the provider's sink until the context is cancelled or the caller
// closes frames.
func pumpUntilClosed(ctx context.Context, frames chan domain.AudioFrame, sink chan<- domain.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				close(sink)
				return nil
			}
			sink <- frame
		}
	}
}

// ConfidenceFromLogProb maps a log-probability score (as returned by
// logprob-based STT backends) to a [0,1] confidence.
func ConfidenceFromLogProb(logProb float64) float64 {
	return math.Exp(logProb)
}

// WordTiming is one word-level timing entry some STT backends report.
type WordTiming struct {
	Word       string
	StartSec   float64
	EndSec     float64
	Confidence float64
}

// SynthesizeSegments builds the Segment slice for a transcript: one
// Segment per word when word-level timing is available, otherwise a
// single segment spanning the whole utterance.
func SynthesizeSegments(text string, words []WordTiming, utteranceStart, utteranceEnd, utteranceConfidence float64) []domain.Segment {
	if len(words) == 0 {
		return []domain.Segment{{Text: text, StartSec: utteranceStart, EndSec: utteranceEnd, Confidence: utteranceConfidence}}
	}
	segments := make([]domain.Segment, len(words))
	for i, w := range words {
		segments[i] = domain.Segment{Text: w.Word, StartSec: w.StartSec, EndSec: w.EndSec, Confidence: w.Confidence}
	}
	return segments
}
