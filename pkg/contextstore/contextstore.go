// Package contextstore implements a rolling, bounded window of
// finalized transcripts, topics, and comments, plus a time-decayed
// keyword weight table and an engagement score. The PipelineCoordinator
// is its sole writer; reads return a deep copy so concurrent consumers
// never observe a torn snapshot.
package contextstore

import (
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

// DefaultWindowSize is the bounded FIFO size per class (transcripts,
// topics, comments).
const DefaultWindowSize = 10

// DefaultDecayWindow is how long a keyword observation takes to decay
// to zero weight.
const DefaultDecayWindow = 5 * time.Minute

// defaultTopicMarkers are heuristic phrases whose presence in a
// finalized transcript contributes a topic.
var defaultTopicMarkers = []string{
	"について", "の話", "という話題", "話していた", "トピック",
}

type keywordObservation struct {
	count     float64
	observed  time.Time
}

// Store holds the rolling window. All mutation happens on the single
// writer (PipelineCoordinator); Snapshot is safe from any goroutine.
type Store struct {
	mu sync.RWMutex

	windowSize   int
	decayWindow  time.Duration
	topicMarkers []string

	transcripts []domain.Transcript
	topics      []string
	comments    []string
	keywords    map[string]keywordObservation
	engagement  float64
}

// New builds a Store with the default window size and decay window.
func New() *Store {
	return &Store{
		windowSize:   DefaultWindowSize,
		decayWindow:  DefaultDecayWindow,
		topicMarkers: defaultTopicMarkers,
		keywords:     make(map[string]keywordObservation),
		engagement:   0.5,
	}
}

// AppendTranscript appends a finalized transcript, extracts topics and
// keywords from it, and evicts the oldest entry if the window is full.
// Non-final transcripts are ignored: only finalized transcripts mutate
// the store.
func (s *Store) AppendTranscript(t domain.Transcript) {
	if !t.IsFinal {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcripts = appendBounded(s.transcripts, t, s.windowSize)

	if topic, ok := extractTopic(t.Text, s.topicMarkers); ok {
		s.topics = appendBounded(s.topics, topic, s.windowSize)
	}

	now := time.Now()
	for _, word := range tokenize(t.Text) {
		obs := s.keywords[word]
		obs.count = decayedWeight(obs, now, s.decayWindow) + 1
		obs.observed = now
		s.keywords[word] = obs
	}
}

// AppendTopic appends an explicit topic, bypassing heuristic extraction.
func (s *Store) AppendTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = appendBounded(s.topics, topic, s.windowSize)
}

// AppendComment appends a comment the pipeline posted, so future
// opportunity/generation decisions have it as conversational context.
func (s *Store) AppendComment(comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = appendBounded(s.comments, comment, s.windowSize)
}

// SetEngagement updates the current engagement score, clamped to [0,1].
// The pipeline's engagement signal (viewer chat rate, reaction volume,
// etc.) is external to this store; it only holds the latest value.
func (s *Store) SetEngagement(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engagement = level
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.ContextSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transcripts := make([]domain.Transcript, len(s.transcripts))
	copy(transcripts, s.transcripts)

	topics := make([]string, len(s.topics))
	copy(topics, s.topics)

	now := time.Now()
	keywords := make(map[string]float64, len(s.keywords))
	for word, obs := range s.keywords {
		w := decayedWeight(obs, now, s.decayWindow)
		if w > 0 {
			keywords[word] = w
		}
	}

	return domain.ContextSnapshot{
		RecentTranscripts: transcripts,
		Topics:            topics,
		Keywords:          keywords,
		Engagement:        s.engagement,
	}
}

func decayedWeight(obs keywordObservation, now time.Time, decayWindow time.Duration) float64 {
	if obs.observed.IsZero() || decayWindow <= 0 {
		return obs.count
	}
	age := now.Sub(obs.observed)
	decay := age.Seconds() / decayWindow.Seconds()
	w := obs.count - decay
	if w < 0 {
		return 0
	}
	return w
}

func appendBounded[T any](slice []T, item T, max int) []T {
	slice = append(slice, item)
	if len(slice) > max {
		slice = slice[len(slice)-max:]
	}
	return slice
}

func extractTopic(text string, markers []string) (string, bool) {
	for _, marker := range markers {
		if idx := strings.Index(text, marker); idx >= 0 {
			end := idx
			if end > 40 {
				end = 40
			}
			return strings.TrimSpace(text[:end]), true
		}
	}
	return "", false
}

// tokenize is a coarse whitespace/punctuation splitter; Japanese text
// often has no spaces, so this mainly captures mixed-script keywords
// (loanwords, names, numbers) rather than full morphological analysis.
func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		if strings.ContainsRune(" \t\n、。！？,.!?「」『』", r) {
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return tokens
}
