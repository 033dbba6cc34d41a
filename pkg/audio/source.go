// Package audio implements framed PCM capture from a named device via
// malgo, with bounded auto-reconnect, plus the WAV framing helper batch
// STT calls use and an UtteranceDetector for chunking continuous
// capture.
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/logging"
)

// EventType enumerates what a Source reports on its Events channel.
type EventType string

const (
	EventData         EventType = "data"
	EventError        EventType = "error"
	EventReconnecting EventType = "reconnecting"
	EventReconnected  EventType = "reconnected"
)

// Event is one item on a Source's event channel.
type Event struct {
	Type    EventType
	Frame   domain.AudioFrame
	Err     error
	Attempt int
}

// Config tunes device capture and reconnect behavior.
type Config struct {
	DeviceName     string // empty selects the default capture device
	SampleRate     int
	Channels       int
	AutoReconnect  bool
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// DefaultConfig returns a 30s backoff cap and 5 reconnect attempts.
func DefaultConfig() Config {
	return Config{
		SampleRate:    44100,
		Channels:      1,
		AutoReconnect: true,
		MaxBackoff:    30 * time.Second,
		MaxAttempts:   5,
	}
}

// Source captures PCM frames from a malgo capture device.
type Source struct {
	cfg    Config
	logger logging.Logger

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	events chan Event
	mu     sync.Mutex
	stopCh chan struct{}
	stopped bool
}

// New opens the malgo context and starts the capture device. Errors
// during this startup call are surfaced synchronously rather than
// reported later on the event channel.
func New(cfg Config, logger logging.Logger) (*Source, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	s := &Source{
		cfg:    cfg,
		logger: logger,
		mctx:   mctx,
		events: make(chan Event, 64),
		stopCh: make(chan struct{}),
	}

	if err := s.openDevice(); err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("audio: open device: %w", err)
	}

	return s, nil
}

// Events returns the read side of the Source's event channel.
func (s *Source) Events() <-chan Event { return s.events }

func (s *Source) openDevice() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)

	onSamples := func(_, pInput []byte, frameCount uint32) {
		pcm := make([]byte, len(pInput))
		copy(pcm, pInput)
		frame := domain.AudioFrame{
			PCM:        pcm,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			CapturedAt: time.Now(),
		}
		s.emit(Event{Type: EventData, Frame: frame})
	}

	// malgo signals device failure and normal stop the same way: the
	// Stop callback fires either way, with no error value attached. We
	// treat every post-startup stop as a runtime error and let the
	// reconnect loop decide whether the device actually needs reopening.
	onStop := func() {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		go s.handleRuntimeError(fmt.Errorf("audio: capture device stopped unexpectedly"))
	}

	device, err := malgo.InitDevice(s.mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples, Stop: onStop})
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}

	s.device = device
	return nil
}

// handleRuntimeError is invoked whenever capture fails after startup. It
// emits `error`, then if AutoReconnect is set, attempts to reopen the
// device with exponential backoff up to MaxAttempts, emitting
// `reconnecting(attempt)` before each try and `reconnected` on success.
func (s *Source) handleRuntimeError(cause error) {
	s.emit(Event{Type: EventError, Err: cause})

	if !s.cfg.AutoReconnect {
		return
	}

	backoffDelay := 500 * time.Millisecond
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		s.emit(Event{Type: EventReconnecting, Attempt: attempt})

		select {
		case <-s.stopCh:
			return
		case <-time.After(backoffDelay):
		}

		if s.device != nil {
			s.device.Uninit()
		}
		if err := s.openDevice(); err == nil {
			s.emit(Event{Type: EventReconnected})
			return
		}

		backoffDelay *= 2
		if backoffDelay > s.cfg.MaxBackoff {
			backoffDelay = s.cfg.MaxBackoff
		}
	}

	s.emit(Event{Type: EventError, Err: fmt.Errorf("audio: exhausted %d reconnect attempts", s.cfg.MaxAttempts)})
}

func (s *Source) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warn("audio: event channel full, dropping event", "type", e.Type)
	}
}

// Stop ceases emission and releases the device within a bounded time.
func (s *Source) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if s.device != nil {
			s.device.Uninit()
		}
		s.mctx.Uninit()
		close(s.events)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audio: stop timed out after %s", timeout)
	}
}
