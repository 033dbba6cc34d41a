package contextstore

import (
	"testing"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

func TestAppendTranscript_IgnoresNonFinal(t *testing.T) {
	s := New()
	s.AppendTranscript(domain.Transcript{Text: "draft", IsFinal: false})
	snap := s.Snapshot()
	if len(snap.RecentTranscripts) != 0 {
		t.Fatalf("expected non-final transcript ignored, got %d", len(snap.RecentTranscripts))
	}
}

func TestAppendTranscript_BoundedWindow(t *testing.T) {
	s := New()
	s.windowSize = 3
	for i := 0; i < 5; i++ {
		s.AppendTranscript(domain.Transcript{Text: "x", IsFinal: true})
	}
	snap := s.Snapshot()
	if len(snap.RecentTranscripts) != 3 {
		t.Fatalf("expected window bounded to 3, got %d", len(snap.RecentTranscripts))
	}
}

func TestAppendTranscript_ExtractsTopicFromMarker(t *testing.T) {
	s := New()
	s.AppendTranscript(domain.Transcript{Text: "今日は新しいアップデートについて話します", IsFinal: true})
	snap := s.Snapshot()
	if len(snap.Topics) != 1 {
		t.Fatalf("expected one extracted topic, got %v", snap.Topics)
	}
}

func TestKeywordWeight_DecaysWithAge(t *testing.T) {
	s := New()
	s.decayWindow = 10 * time.Second
	s.keywords["ナイス"] = keywordObservation{count: 1, observed: time.Now().Add(-5 * time.Second)}

	snap := s.Snapshot()
	w, ok := snap.Keywords["ナイス"]
	if !ok {
		t.Fatalf("expected keyword still present at half decay")
	}
	if w <= 0 || w >= 1 {
		t.Fatalf("expected partially decayed weight in (0,1), got %f", w)
	}
}

func TestKeywordWeight_FullyDecayedIsOmitted(t *testing.T) {
	s := New()
	s.decayWindow = time.Second
	s.keywords["old"] = keywordObservation{count: 1, observed: time.Now().Add(-time.Hour)}

	snap := s.Snapshot()
	if _, ok := snap.Keywords["old"]; ok {
		t.Fatalf("expected fully decayed keyword to be omitted")
	}
}

func TestSetEngagement_Clamps(t *testing.T) {
	s := New()
	s.SetEngagement(1.5)
	if snap := s.Snapshot(); snap.Engagement != 1 {
		t.Fatalf("expected engagement clamped to 1, got %f", snap.Engagement)
	}
	s.SetEngagement(-1)
	if snap := s.Snapshot(); snap.Engagement != 0 {
		t.Fatalf("expected engagement clamped to 0, got %f", snap.Engagement)
	}
}

func TestSnapshot_ReturnsIndependentCopy(t *testing.T) {
	s := New()
	s.AppendTranscript(domain.Transcript{Text: "a", IsFinal: true})
	snap := s.Snapshot()
	snap.RecentTranscripts[0].Text = "mutated"

	snap2 := s.Snapshot()
	if snap2.RecentTranscripts[0].Text == "mutated" {
		t.Fatalf("expected snapshot mutation not to leak back into the store")
	}
}
