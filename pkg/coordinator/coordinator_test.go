package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/policy"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

type stubSTT struct {
	transcript domain.Transcript
	err        error
}

func (s *stubSTT) Transcribe(ctx context.Context, audio []byte, language string) (domain.Transcript, error) {
	return s.transcript, s.err
}

type stubContextStore struct {
	snapshot domain.ContextSnapshot
}

func (s *stubContextStore) AppendTranscript(t domain.Transcript) {}
func (s *stubContextStore) AppendComment(comment string)         {}
func (s *stubContextStore) Snapshot() domain.ContextSnapshot     { return s.snapshot }

type stubDetector struct {
	opportunity domain.Opportunity
}

func (d *stubDetector) Classify(ctx context.Context, text string, snapshot domain.ContextSnapshot) domain.Opportunity {
	return d.opportunity
}

type stubLLM struct {
	comment providers.GeneratedComment
	err     error
}

func (l *stubLLM) Name() string                          { return "stub-llm" }
func (l *stubLLM) Healthy(ctx context.Context) bool       { return true }
func (l *stubLLM) Chat(ctx context.Context, messages []domain.Message, options providers.ChatOptions) (providers.ChatResult, error) {
	return providers.ChatResult{}, nil
}
func (l *stubLLM) GenerateComment(ctx context.Context, gctx providers.GenerationContext) (providers.GeneratedComment, error) {
	return l.comment, l.err
}
func (l *stubLLM) ClassifyOpportunity(ctx context.Context, gctx providers.GenerationContext) (providers.ClassifiedOpportunity, error) {
	return providers.ClassifiedOpportunity{}, nil
}

type stubModerator struct {
	outcome domain.RewriteOutcome
	err     error
}

func (m *stubModerator) ModerateAndRewrite(ctx context.Context, text, guidelines string, gctx *providers.GenerationContext) (domain.RewriteOutcome, error) {
	if m.err != nil {
		return domain.RewriteOutcome{}, m.err
	}
	if m.outcome.Original == "" {
		return domain.RewriteOutcome{Original: text, Rewritten: text, OriginalVerdict: domain.ModerationVerdict{SuggestedAction: domain.ActionApprove}}, nil
	}
	return m.outcome, nil
}

type stubRateLimiter struct {
	decision domain.RateLimitDecision
}

func (r *stubRateLimiter) Check(text string, now time.Time) domain.RateLimitDecision {
	return r.decision
}

type stubScheduler struct {
	enqueued []domain.ScheduledComment
}

func (s *stubScheduler) Enqueue(c domain.ScheduledComment) error {
	s.enqueued = append(s.enqueued, c)
	return nil
}

type stubChat struct {
	rateLimit providers.RateLimitInfo
	rateErr   error
	postErr   error
	post      providers.PostResult
}

func (c *stubChat) Name() string                    { return "stub-chat" }
func (c *stubChat) Healthy(ctx context.Context) bool { return true }
func (c *stubChat) Post(ctx context.Context, chatID string, text string) (providers.PostResult, error) {
	if c.postErr != nil {
		return providers.PostResult{}, c.postErr
	}
	return c.post, nil
}
func (c *stubChat) GetLiveChatID(ctx context.Context, broadcastID string) (string, error) {
	return "chat-1", nil
}
func (c *stubChat) GetRateLimitInfo(ctx context.Context) (providers.RateLimitInfo, error) {
	return c.rateLimit, c.rateErr
}

func testPolicy() domain.CommentPolicy {
	return domain.CommentPolicy{
		Tone:         "casual",
		Persona:      "buddy",
		TargetLength: domain.TargetLength{Min: 1, Max: 200},
		Emoji:        domain.EmojiPolicy{Enabled: false},
	}
}

func newTestCoordinator(stt STT, detector OpportunityDetector, llm providers.LLMProvider, mod Moderator, rl RateLimiter, sched Scheduler, chat providers.ChatProvider) *Coordinator {
	c := New(stt, &stubContextStore{}, detector, llm, policy.NewEngine(), mod, rl, sched, chat,
		Config{MinCommentInterval: 0}, testPolicy(), nil)
	c.Start("chat-1")
	return c
}

func TestProcessAudioPostsOnNecessaryOpportunity(t *testing.T) {
	stt := &stubSTT{transcript: domain.Transcript{Text: "hello world", IsFinal: true}}
	detector := &stubDetector{opportunity: domain.Opportunity{Label: domain.OpportunityNecessary}}
	llm := &stubLLM{comment: providers.GeneratedComment{Comment: "nice play!", Confidence: 0.9}}
	chat := &stubChat{rateLimit: providers.RateLimitInfo{Remaining: 10}, post: providers.PostResult{ID: "post-1"}}
	rl := &stubRateLimiter{decision: domain.RateLimitDecision{Allowed: true}}

	c := newTestCoordinator(stt, detector, llm, &stubModerator{}, rl, &stubScheduler{}, chat)

	result := c.ProcessAudio(context.Background(), []byte{1, 2, 3}, "en")
	if !result.Success || !result.Posted {
		t.Fatalf("expected success+posted, got %+v", result)
	}
	if result.PostID != "post-1" {
		t.Errorf("expected post-1, got %s", result.PostID)
	}

	breakdown := c.LastLatencyBreakdown()
	if breakdown.Total == 0 {
		t.Error("expected non-zero total latency")
	}
}

func TestProcessAudioSkipsWhenUnnecessary(t *testing.T) {
	stt := &stubSTT{transcript: domain.Transcript{Text: "just noise"}}
	detector := &stubDetector{opportunity: domain.Opportunity{Label: domain.OpportunityUnnecessary}}
	chat := &stubChat{rateLimit: providers.RateLimitInfo{Remaining: 10}}

	c := newTestCoordinator(stt, detector, &stubLLM{}, &stubModerator{}, &stubRateLimiter{}, &stubScheduler{}, chat)

	result := c.ProcessAudio(context.Background(), []byte{1}, "en")
	if !result.Success || result.Posted {
		t.Fatalf("expected success without posting, got %+v", result)
	}
}

func TestProcessAudioRateLimitedByRemoteQuota(t *testing.T) {
	stt := &stubSTT{transcript: domain.Transcript{Text: "hello"}}
	detector := &stubDetector{opportunity: domain.Opportunity{Label: domain.OpportunityNecessary}}
	chat := &stubChat{rateLimit: providers.RateLimitInfo{Remaining: 0}}

	c := newTestCoordinator(stt, detector, &stubLLM{}, &stubModerator{}, &stubRateLimiter{}, &stubScheduler{}, chat)

	result := c.ProcessAudio(context.Background(), []byte{1}, "en")
	if result.Error != ErrRateLimited.Error() {
		t.Errorf("expected rate limit error, got %q", result.Error)
	}
}

func TestProcessAudioBlockedByModeration(t *testing.T) {
	stt := &stubSTT{transcript: domain.Transcript{Text: "hello"}}
	detector := &stubDetector{opportunity: domain.Opportunity{Label: domain.OpportunityNecessary}}
	llm := &stubLLM{comment: providers.GeneratedComment{Comment: "bad comment"}}
	chat := &stubChat{rateLimit: providers.RateLimitInfo{Remaining: 10}}
	mod := &stubModerator{outcome: domain.RewriteOutcome{
		Original:        "bad comment",
		OriginalVerdict: domain.ModerationVerdict{SuggestedAction: domain.ActionBlock, Flagged: true},
	}}

	c := newTestCoordinator(stt, detector, llm, mod, &stubRateLimiter{decision: domain.RateLimitDecision{Allowed: true}}, &stubScheduler{}, chat)

	result := c.ProcessAudio(context.Background(), []byte{1}, "en")
	if result.Posted {
		t.Fatal("expected blocked comment not to post")
	}
	if result.Error != "blocked" {
		t.Errorf("expected blocked, got %q", result.Error)
	}
}

func TestProcessAudioEnqueuesRetryOnRetryablePostError(t *testing.T) {
	stt := &stubSTT{transcript: domain.Transcript{Text: "hello"}}
	detector := &stubDetector{opportunity: domain.Opportunity{Label: domain.OpportunityNecessary}}
	llm := &stubLLM{comment: providers.GeneratedComment{Comment: "nice play!"}}
	sched := &stubScheduler{}
	chat := &stubChat{
		rateLimit: providers.RateLimitInfo{Remaining: 10},
		postErr:   providers.NewRetryable("stub-chat", errors.New("temporarily down")),
	}

	c := newTestCoordinator(stt, detector, llm, &stubModerator{}, &stubRateLimiter{decision: domain.RateLimitDecision{Allowed: true}}, sched, chat)

	result := c.ProcessAudio(context.Background(), []byte{1}, "en")
	if result.Success {
		t.Fatal("expected failure result on post error")
	}
	if len(sched.enqueued) != 1 {
		t.Fatalf("expected one retry enqueued, got %d", len(sched.enqueued))
	}
}

func TestProcessAudioSuppressesEchoOfOwnComment(t *testing.T) {
	stt := &stubSTT{transcript: domain.Transcript{Text: "nice play!", IsFinal: true}}
	detector := &stubDetector{opportunity: domain.Opportunity{Label: domain.OpportunityNecessary}}
	chat := &stubChat{rateLimit: providers.RateLimitInfo{Remaining: 10}}

	c := newTestCoordinator(stt, detector, &stubLLM{}, &stubModerator{}, &stubRateLimiter{}, &stubScheduler{}, chat)
	c.recentComments = []policy.RecentComment{{PostedAt: time.Now(), Text: "nice play!"}}

	result := c.ProcessAudio(context.Background(), []byte{1}, "en")
	if !result.Success || result.Posted {
		t.Fatalf("expected echo to be suppressed without posting, got %+v", result)
	}
}

func TestProcessAudioDoesNotSuppressEchoAfterWindowExpires(t *testing.T) {
	stt := &stubSTT{transcript: domain.Transcript{Text: "nice play!", IsFinal: true}}
	detector := &stubDetector{opportunity: domain.Opportunity{Label: domain.OpportunityNecessary}}
	llm := &stubLLM{comment: providers.GeneratedComment{Comment: "another comment"}}
	chat := &stubChat{rateLimit: providers.RateLimitInfo{Remaining: 10}, post: providers.PostResult{ID: "post-2"}}
	rl := &stubRateLimiter{decision: domain.RateLimitDecision{Allowed: true}}

	c := newTestCoordinator(stt, detector, llm, &stubModerator{}, rl, &stubScheduler{}, chat)
	c.recentComments = []policy.RecentComment{{PostedAt: time.Now().Add(-time.Hour), Text: "nice play!"}}

	result := c.ProcessAudio(context.Background(), []byte{1}, "en")
	if !result.Posted {
		t.Fatalf("expected comment to post once echo window expired, got %+v", result)
	}
}

func TestProcessAudioNotRunning(t *testing.T) {
	c := New(&stubSTT{}, &stubContextStore{}, &stubDetector{}, &stubLLM{}, policy.NewEngine(), &stubModerator{}, &stubRateLimiter{}, &stubScheduler{}, &stubChat{}, Config{}, testPolicy(), nil)

	result := c.ProcessAudio(context.Background(), []byte{1}, "en")
	if result.Error != "coordinator not running" {
		t.Errorf("expected not running error, got %q", result.Error)
	}
}
