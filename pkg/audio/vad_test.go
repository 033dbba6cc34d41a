package audio

import (
	"testing"
	"time"
)

func loudChunk() []byte {
	chunk := make([]byte, 320)
	for i := 0; i < len(chunk); i += 2 {
		chunk[i] = 0xFF
		chunk[i+1] = 0x7F
	}
	return chunk
}

func quietChunk() []byte {
	return make([]byte, 320)
}

func TestUtteranceDetector_ConfirmsSpeechAfterMinFrames(t *testing.T) {
	d := NewUtteranceDetector(0.1, 200*time.Millisecond)
	d.SetMinConfirmed(3)
	now := time.Now()

	var lastEvent *BoundaryEvent
	for i := 0; i < 3; i++ {
		lastEvent = d.Process(loudChunk(), now)
		now = now.Add(10 * time.Millisecond)
	}
	if lastEvent == nil || lastEvent.Type != SpeechStart {
		t.Fatalf("expected SpeechStart after min confirmed frames, got %+v", lastEvent)
	}
	if !d.IsSpeaking() {
		t.Fatalf("expected detector to report speaking")
	}
}

func TestUtteranceDetector_EndsAfterSilenceLimit(t *testing.T) {
	d := NewUtteranceDetector(0.1, 50*time.Millisecond)
	d.SetMinConfirmed(1)
	now := time.Now()

	d.Process(loudChunk(), now)
	if !d.IsSpeaking() {
		t.Fatalf("expected speaking after one confirmed frame")
	}

	now = now.Add(60 * time.Millisecond)
	ev := d.Process(quietChunk(), now)
	if ev == nil || ev.Type != SpeechEnd {
		t.Fatalf("expected SpeechEnd after silence limit elapsed, got %+v", ev)
	}
	if d.IsSpeaking() {
		t.Fatalf("expected detector to report not speaking after SpeechEnd")
	}
}

func TestUtteranceDetector_QuietChunksBeforeSpeechAreSilence(t *testing.T) {
	d := NewUtteranceDetector(0.1, 50*time.Millisecond)
	ev := d.Process(quietChunk(), time.Now())
	if ev == nil || ev.Type != Silence {
		t.Fatalf("expected Silence event before any speech, got %+v", ev)
	}
}

func TestReset_ClearsState(t *testing.T) {
	d := NewUtteranceDetector(0.1, 50*time.Millisecond)
	d.SetMinConfirmed(1)
	d.Process(loudChunk(), time.Now())
	d.Reset()
	if d.IsSpeaking() {
		t.Fatalf("expected Reset to clear speaking state")
	}
}
