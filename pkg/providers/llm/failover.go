package llm

import (
	"context"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/failover"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

// Failover adapts a failover.Controller over an ordered LLMProvider list
// back into a single providers.LLMProvider, so PipelineCoordinator (which
// depends on exactly one LLM provider) gets health-aware routing over
// multiple back-ends without knowing there is more than one provider
// behind it.
type Failover struct {
	ctrl *failover.Controller[providers.LLMProvider]
}

// NewFailover wraps ctrl as a single LLMProvider.
func NewFailover(ctrl *failover.Controller[providers.LLMProvider]) *Failover {
	return &Failover{ctrl: ctrl}
}

func (f *Failover) Name() string { return "llm-failover" }

// Healthy reports true if any wrapped provider currently is; Execute
// itself is what actually decides routing per call.
func (f *Failover) Healthy(ctx context.Context) bool {
	for _, h := range f.ctrl.Health() {
		if h.Healthy {
			return true
		}
	}
	return false
}

func (f *Failover) GenerateComment(ctx context.Context, gctx providers.GenerationContext) (providers.GeneratedComment, error) {
	var out providers.GeneratedComment
	err := f.ctrl.Execute(ctx, func(ctx context.Context, p providers.LLMProvider) error {
		r, err := p.GenerateComment(ctx, gctx)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (f *Failover) ClassifyOpportunity(ctx context.Context, gctx providers.GenerationContext) (providers.ClassifiedOpportunity, error) {
	var out providers.ClassifiedOpportunity
	err := f.ctrl.Execute(ctx, func(ctx context.Context, p providers.LLMProvider) error {
		r, err := p.ClassifyOpportunity(ctx, gctx)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (f *Failover) Chat(ctx context.Context, messages []domain.Message, options providers.ChatOptions) (providers.ChatResult, error) {
	var out providers.ChatResult
	err := f.ctrl.Execute(ctx, func(ctx context.Context, p providers.LLMProvider) error {
		r, err := p.Chat(ctx, messages, options)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}
