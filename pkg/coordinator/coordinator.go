// Package coordinator implements the end-to-end processAudio -> decide
// -> generate -> filter -> schedule -> post path for a single active
// broadcast. It owns the ContextStore, RateLimiter, and Scheduler
// exclusively; providers are shared, read-only collaborators reached
// through narrow interfaces so this package never depends on the
// concrete provider client packages.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/logging"
	"github.com/lokutor-ai/stream-commentator/pkg/policy"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// ErrRateLimited is returned when the chat provider's own remaining
// quota is exhausted.
var ErrRateLimited = errors.New("coordinator: rate limit exceeded")

// STT is the subset of sttpipeline.Pipeline processAudio depends on.
type STT interface {
	Transcribe(ctx context.Context, audio []byte, language string) (domain.Transcript, error)
}

// ContextStore is the subset of contextstore.Store processAudio depends on.
type ContextStore interface {
	AppendTranscript(t domain.Transcript)
	AppendComment(comment string)
	Snapshot() domain.ContextSnapshot
}

// OpportunityDetector is the subset of opportunity.Detector processAudio
// depends on.
type OpportunityDetector interface {
	Classify(ctx context.Context, text string, snapshot domain.ContextSnapshot) domain.Opportunity
}

// RateLimiter is the subset of ratelimit.Limiter processAudio depends on.
type RateLimiter interface {
	Check(text string, now time.Time) domain.RateLimitDecision
}

// Scheduler is the subset of scheduler.Scheduler the coordinator uses
// to retry a post that failed transiently, rather than losing it.
type Scheduler interface {
	Enqueue(c domain.ScheduledComment) error
}

// State is the coordinator's own lifecycle, independent of the
// Scheduler's (a coordinator can be stopped while its Scheduler still
// drains a retry backlog).
type State string

const (
	Stopped State = "stopped"
	Running State = "running"
)

// Config tunes the coordinator's own behavior, outside what lives in
// domain.CommentPolicy/SafetyPolicy.
type Config struct {
	MinCommentInterval time.Duration
	RewriteGuidelines  string
}

// Moderator is the subset of moderation.Manager processAudio depends on.
type Moderator interface {
	ModerateAndRewrite(ctx context.Context, text, guidelines string, gctx *providers.GenerationContext) (domain.RewriteOutcome, error)
}

// Coordinator wires one broadcast's pipeline together.
type Coordinator struct {
	mu sync.RWMutex

	stt          STT
	contextStore ContextStore
	opportunity  OpportunityDetector
	llm          providers.LLMProvider
	policyEngine *policy.Engine
	moderator    Moderator
	rateLimiter  RateLimiter
	scheduler    Scheduler
	chat         providers.ChatProvider
	logger       logging.Logger

	cfg            Config
	commentPolicy  domain.CommentPolicy
	recentComments []policy.RecentComment

	chatID         string
	state          State
	lastCommentAt  time.Time
	lastLatency    LatencyBreakdown
}

// LatencyBreakdown reports how long ProcessAudio's most recent call
// spent in each pipeline stage. Stages skipped by an early return (no
// opportunity, rate-limited, etc.) are left at zero.
type LatencyBreakdown struct {
	Transcribe time.Duration
	Detect     time.Duration
	Generate   time.Duration
	Filter     time.Duration
	Moderate   time.Duration
	RateLimit  time.Duration
	Post       time.Duration
	Total      time.Duration
}

// LastLatencyBreakdown returns the stage timings from the most recently
// completed ProcessAudio call.
func (c *Coordinator) LastLatencyBreakdown() LatencyBreakdown {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastLatency
}

// New builds a stopped Coordinator.
func New(
	stt STT,
	contextStore ContextStore,
	opportunity OpportunityDetector,
	llm providers.LLMProvider,
	policyEngine *policy.Engine,
	moderator Moderator,
	rateLimiter RateLimiter,
	sched Scheduler,
	chat providers.ChatProvider,
	cfg Config,
	commentPolicy domain.CommentPolicy,
	logger logging.Logger,
) *Coordinator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	policyEngine.SetForbiddenTerms(commentPolicy.ForbiddenTerms)
	return &Coordinator{
		stt:           stt,
		contextStore:  contextStore,
		opportunity:   opportunity,
		llm:           llm,
		policyEngine:  policyEngine,
		moderator:     moderator,
		rateLimiter:   rateLimiter,
		scheduler:     sched,
		chat:          chat,
		logger:        logger,
		cfg:           cfg,
		commentPolicy: commentPolicy,
		state:         Stopped,
	}
}

// Start sets the chat id for the active broadcast and transitions to
// running.
func (c *Coordinator) Start(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatID = chatID
	c.state = Running
}

// Stop transitions the coordinator to stopped; processAudio becomes a
// no-op until Start is called again.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Stopped
}

// State reports the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UpdateConfig atomically replaces the comment policy and coordinator
// config. Never cancels in-flight processAudio work.
func (c *Coordinator) UpdateConfig(commentPolicy domain.CommentPolicy, cfg Config) {
	c.policyEngine.SetForbiddenTerms(commentPolicy.ForbiddenTerms)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.commentPolicy = commentPolicy
	c.cfg = cfg
}

// ProcessAudio runs the full transcribe -> decide -> generate -> filter
// -> moderate -> post pipeline for one audio chunk. It never returns an
// error to its caller; failures are reported through ProcessResult.
func (c *Coordinator) ProcessAudio(ctx context.Context, audio []byte, language string) domain.ProcessResult {
	now := time.Now()
	result := domain.ProcessResult{Timestamp: now}

	var latency LatencyBreakdown
	defer func() {
		latency.Total = time.Since(now)
		c.mu.Lock()
		c.lastLatency = latency
		c.mu.Unlock()
	}()

	c.mu.RLock()
	running := c.state == Running
	chatID := c.chatID
	commentPolicy := c.commentPolicy
	cfg := c.cfg
	c.mu.RUnlock()

	if !running {
		result.Error = "coordinator not running"
		return result
	}

	stageStart := time.Now()
	transcript, err := c.stt.Transcribe(ctx, audio, language)
	latency.Transcribe = time.Since(stageStart)
	if err != nil {
		result.Error = fmt.Sprintf("transcribe: %v", err)
		c.logger.Warn("coordinator: transcription failed", "error", err)
		return result
	}
	result.Transcript = &transcript

	c.contextStore.AppendTranscript(transcript)
	snapshot := c.contextStore.Snapshot()

	if c.isEchoOfOwnComment(transcript.Text, now) {
		result.Success = true
		result.Posted = false
		return result
	}

	stageStart = time.Now()
	opportunity := c.opportunity.Classify(ctx, transcript.Text, snapshot)
	latency.Detect = time.Since(stageStart)
	if opportunity.Label != domain.OpportunityNecessary {
		result.Success = true
		result.Posted = false
		return result
	}

	quota, err := c.chat.GetRateLimitInfo(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("quota check: %v", err)
		return result
	}
	if quota.Remaining == 0 {
		result.Error = ErrRateLimited.Error()
		return result
	}

	c.mu.RLock()
	sinceLast := now.Sub(c.lastCommentAt)
	c.mu.RUnlock()
	if c.lastCommentAtIsSet() && sinceLast < cfg.MinCommentInterval {
		result.Success = true
		result.Posted = false
		return result
	}

	stageStart = time.Now()
	generated, err := c.llm.GenerateComment(ctx, providers.GenerationContext{
		Snapshot: snapshot,
		Policy:   commentPolicy,
		Text:     transcript.Text,
	})
	latency.Generate = time.Since(stageStart)
	if err != nil {
		result.Error = fmt.Sprintf("generate: %v", err)
		return result
	}

	c.mu.RLock()
	recent := append([]policy.RecentComment(nil), c.recentComments...)
	c.mu.RUnlock()
	stageStart = time.Now()
	filtered := c.policyEngine.Apply(generated.Comment, commentPolicy, recent, now)
	latency.Filter = time.Since(stageStart)
	result.GeneratedComment = filtered.Text

	gctx := &providers.GenerationContext{Snapshot: snapshot, Policy: commentPolicy, Text: transcript.Text}
	stageStart = time.Now()
	outcome, err := c.moderator.ModerateAndRewrite(ctx, filtered.Text, cfg.RewriteGuidelines, gctx)
	latency.Moderate = time.Since(stageStart)
	if err != nil {
		result.Error = fmt.Sprintf("moderate: %v", err)
		return result
	}

	finalText := outcome.Original
	switch outcome.OriginalVerdict.SuggestedAction {
	case domain.ActionBlock:
		result.Success = true
		result.Posted = false
		result.Error = "blocked"
		return result
	case domain.ActionRewrite:
		if outcome.WasRewritten && outcome.RewriteVerdict != nil && outcome.RewriteVerdict.SuggestedAction == domain.ActionApprove {
			finalText = outcome.Rewritten
		} else {
			result.Success = true
			result.Posted = false
			result.Error = "blocked"
			return result
		}
	}

	stageStart = time.Now()
	decision := c.rateLimiter.Check(finalText, now)
	latency.RateLimit = time.Since(stageStart)
	if !decision.Allowed {
		result.Success = true
		result.Posted = false
		result.Error = string(decision.Reason)
		return result
	}

	stageStart = time.Now()
	post, err := c.chat.Post(ctx, chatID, finalText)
	latency.Post = time.Since(stageStart)
	if err != nil {
		if providers.IsRetryable(err) {
			c.enqueueRetry(finalText)
		}
		result.Error = fmt.Sprintf("post: %v", err)
		return result
	}

	c.mu.Lock()
	c.lastCommentAt = now
	c.recentComments = appendRecent(c.recentComments, policy.RecentComment{PostedAt: now, Emoji: policy.EmojiSet(finalText), Text: finalText})
	c.mu.Unlock()
	c.contextStore.AppendComment(finalText)

	result.Success = true
	result.Posted = true
	result.PostID = post.ID
	result.GeneratedComment = finalText
	return result
}

// enqueueRetry hands a post that failed on a retryable transport error
// to the Scheduler's priority queue, so a transient chat-provider
// outage does not silently drop a generated comment.
func (c *Coordinator) enqueueRetry(text string) {
	if c.scheduler == nil {
		return
	}
	if err := c.scheduler.Enqueue(domain.ScheduledComment{ID: uuid.NewString(), Text: text, Priority: 0, EnqueuedAt: time.Now()}); err != nil {
		c.logger.Warn("coordinator: failed to enqueue retry", "error", err)
	}
}

func (c *Coordinator) lastCommentAtIsSet() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastCommentAt.IsZero()
}

// echoWindow bounds how long after posting a comment its own text is
// still treated as a candidate echo: the broadcast reading the bot's
// comment back out loud reappears in the transcript within a few
// seconds, not minutes.
const echoWindow = 15 * time.Second

// isEchoOfOwnComment reports whether text is the broadcast reading one
// of the coordinator's own recently posted comments back out loud,
// rather than new speech worth reacting to. No acoustic correlation is
// available at this layer, so a just-posted comment's normalized text
// reappearing verbatim in the transcript within echoWindow is treated
// as evidence enough to skip it, rather than generating a reply to the
// bot's own words.
func (c *Coordinator) isEchoOfOwnComment(text string, now time.Time) bool {
	normalizedText := policy.Normalize(text)
	if normalizedText == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rc := range c.recentComments {
		if rc.Text == "" || now.Sub(rc.PostedAt) > echoWindow {
			continue
		}
		if strings.Contains(normalizedText, policy.Normalize(rc.Text)) {
			return true
		}
	}
	return false
}

const maxRecentComments = 20

func appendRecent(recent []policy.RecentComment, next policy.RecentComment) []policy.RecentComment {
	recent = append(recent, next)
	if len(recent) > maxRecentComments {
		recent = recent[len(recent)-maxRecentComments:]
	}
	return recent
}
