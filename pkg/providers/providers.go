// Package providers defines the contracts the core pipeline depends on
// for every external collaborator: speech-to-text, language model,
// moderation, chat, and the remote config store. Concrete clients for
// real third-party services live in providers/stt, providers/llm,
// providers/moderation and providers/chat; the core never imports those
// sub-packages directly, only these interfaces.
package providers

import (
	"context"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
)

// ProviderError carries a retryable classification: FailoverController
// needs to know, without inspecting strings, whether an error should
// advance to the next provider or abort the whole chain.
type ProviderError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewRetryable wraps err as a retryable provider failure (network,
// timeout, 429/5xx).
func NewRetryable(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Retryable: true, Err: err}
}

// NewFatal wraps err as a non-retryable provider failure (auth,
// validation, oversize input).
func NewFatal(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Retryable: false, Err: err}
}

// IsRetryable reports whether err should cause the FailoverController
// to advance to the next provider rather than abort immediately.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if asProviderError(err, &pe) {
		return pe.Retryable
	}
	// Unclassified errors are treated as retryable by default so a
	// single unexpected error shape does not kill the whole chain.
	return true
}

func asProviderError(err error, target **ProviderError) bool {
	for err != nil {
		if pe, ok := err.(*ProviderError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Named is implemented by every provider kind so the FailoverController
// and health table can key off a stable identifier.
type Named interface {
	Name() string
}

// HealthChecker reports provider liveness. Healthy providers are tried
// first; an unhealthy provider is reprobed on a periodic tick.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// STTProvider transcribes audio in a single batch call.
type STTProvider interface {
	Named
	HealthChecker
	Transcribe(ctx context.Context, audio []byte, language string) (domain.Transcript, error)
}

// StreamingSTTProvider additionally supports a push-based streaming
// transcription session.
type StreamingSTTProvider interface {
	STTProvider
	Stream(ctx context.Context, language string, onTranscript func(domain.Transcript) error) (chan<- domain.AudioFrame, error)
}

// GeneratedComment is the LLM's answer to a generate-a-comment request.
type GeneratedComment struct {
	Comment    string
	Confidence float64
}

// ClassifiedOpportunity is the LLM's answer to an opportunity
// classification request.
type ClassifiedOpportunity struct {
	Label      domain.OpportunityLabel
	Confidence float64
	Reason     string
}

// TokenUsage reports prompt/completion/total token counts for a chat
// call.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// ChatResult is the answer to a raw LLMProvider.Chat call.
type ChatResult struct {
	Message string
	Usage   TokenUsage
}

// GenerationContext is everything the LLM needs to produce a comment or
// classify an opportunity: the rolling conversation context plus the
// currently active persona/style policy.
type GenerationContext struct {
	Snapshot domain.ContextSnapshot
	Policy   domain.CommentPolicy
	Text     string // current transcript text, for opportunity classification
}

// LLMProvider is the language-model contract.
type LLMProvider interface {
	Named
	HealthChecker
	GenerateComment(ctx context.Context, gctx GenerationContext) (GeneratedComment, error)
	ClassifyOpportunity(ctx context.Context, gctx GenerationContext) (ClassifiedOpportunity, error)
	Chat(ctx context.Context, messages []domain.Message, options ChatOptions) (ChatResult, error)
}

// ChatOptions configures a raw LLMProvider.Chat call.
type ChatOptions struct {
	Model       string
	Temperature float64
}

// ModerationProvider classifies text for policy violations and can
// attempt a guided rewrite.
type ModerationProvider interface {
	Named
	HealthChecker
	Moderate(ctx context.Context, text string, gctx *GenerationContext) (domain.ModerationVerdict, error)
	ModerateBatch(ctx context.Context, texts []string) ([]domain.ModerationVerdict, error)
	RewriteContent(ctx context.Context, text string, guidelines string, gctx *GenerationContext) (domain.RewriteOutcome, error)
}

// RateLimitInfo reports the remote chat provider's own quota.
type RateLimitInfo struct {
	Limit      int
	Remaining  int
	ResetAt    int64 // unix seconds
	RetryAfter *int  // seconds, optional
}

// PostResult is the answer to ChatProvider.Post.
type PostResult struct {
	ID        string
	Timestamp int64
}

// ChatProvider posts comments to a broadcast's live chat.
type ChatProvider interface {
	Named
	HealthChecker
	Post(ctx context.Context, chatID string, text string) (PostResult, error)
	GetLiveChatID(ctx context.Context, broadcastID string) (string, error)
	GetRateLimitInfo(ctx context.Context) (RateLimitInfo, error)
}

// ConfigStore is the remote key-value document store SyncEngine polls.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetAll(ctx context.Context) (map[string]string, error)
	Has(ctx context.Context, key string) (bool, error)
}
