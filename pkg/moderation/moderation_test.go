package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
)

type mockProvider struct {
	name        string
	verdict     domain.ModerationVerdict
	err         error
	rewriteText string
	rewriteErr  error
	healthy     bool
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Healthy(ctx context.Context) bool { return m.healthy }

func (m *mockProvider) Moderate(ctx context.Context, text string, gctx *providers.GenerationContext) (domain.ModerationVerdict, error) {
	if m.err != nil {
		return domain.ModerationVerdict{}, m.err
	}
	return m.verdict, nil
}

func (m *mockProvider) ModerateBatch(ctx context.Context, texts []string) ([]domain.ModerationVerdict, error) {
	return nil, nil
}

func (m *mockProvider) RewriteContent(ctx context.Context, text, guidelines string, gctx *providers.GenerationContext) (domain.RewriteOutcome, error) {
	if m.rewriteErr != nil {
		return domain.RewriteOutcome{}, m.rewriteErr
	}
	return domain.RewriteOutcome{Original: text, Rewritten: m.rewriteText}, nil
}

func standardPolicy() domain.SafetyPolicy {
	return domain.SafetyPolicy{Enabled: true, Level: domain.SafetyStandard, BlockOnUncertainty: true}
}

func TestModerate_FlagsAboveThreshold(t *testing.T) {
	primary := &mockProvider{
		name:    "primary",
		verdict: domain.ModerationVerdict{CategoryScores: map[domain.ModerationCategory]float64{domain.CategoryHate: 0.75}},
	}
	mgr := New(primary, nil, standardPolicy(), nil)

	verdict, err := mgr.Moderate(context.Background(), "some text", nil)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if !verdict.Flagged {
		t.Fatalf("expected flagged verdict for score 0.75 >= threshold 0.7")
	}
	if verdict.SuggestedAction != domain.ActionRewrite {
		t.Fatalf("expected rewrite action for score 0.75, got %s", verdict.SuggestedAction)
	}
}

func TestModerate_FallsBackOnPrimaryError(t *testing.T) {
	primary := &mockProvider{name: "primary", err: errors.New("timeout")}
	fallback := &mockProvider{
		name:    "fallback",
		verdict: domain.ModerationVerdict{CategoryScores: map[domain.ModerationCategory]float64{domain.CategoryHate: 0.1}},
	}
	mgr := New(primary, fallback, standardPolicy(), nil)

	verdict, err := mgr.Moderate(context.Background(), "some text", nil)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if verdict.Flagged {
		t.Fatalf("expected unflagged verdict from fallback, got flagged")
	}
	if mgr.GetStats().FallbackUsages != 1 {
		t.Fatalf("expected one fallback usage recorded")
	}
}

func TestModerate_BothProvidersFailBlocksOnUncertainty(t *testing.T) {
	primary := &mockProvider{name: "primary", err: errors.New("down")}
	fallback := &mockProvider{name: "fallback", err: errors.New("down")}
	mgr := New(primary, fallback, standardPolicy(), nil)

	verdict, err := mgr.Moderate(context.Background(), "some text", nil)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if !verdict.Flagged || verdict.SuggestedAction != domain.ActionBlock {
		t.Fatalf("expected blockOnUncertainty verdict, got %+v", verdict)
	}
	if verdict.ErrorTag == "" {
		t.Fatalf("expected an error tag on the synthetic verdict")
	}
}

func TestModerate_StrictThresholdsSupersetFlagsStandard(t *testing.T) {
	primary := &mockProvider{
		name:    "primary",
		verdict: domain.ModerationVerdict{CategoryScores: map[domain.ModerationCategory]float64{domain.CategoryHate: 0.55}},
	}

	standardMgr := New(primary, nil, domain.SafetyPolicy{Enabled: true, Level: domain.SafetyStandard}, nil)
	standardVerdict, _ := standardMgr.Moderate(context.Background(), "x", nil)

	strictMgr := New(primary, nil, domain.SafetyPolicy{Enabled: true, Level: domain.SafetyStrict}, nil)
	strictVerdict, _ := strictMgr.Moderate(context.Background(), "x", nil)

	if standardVerdict.Flagged && !strictVerdict.Flagged {
		t.Fatalf("strict flagged less than standard: standard=%v strict=%v", standardVerdict, strictVerdict)
	}
}

func TestModerateAndRewrite_RewritesOnceWhenFlagged(t *testing.T) {
	calls := 0
	primary := &mockProviderSeq{
		verdicts: []domain.ModerationVerdict{
			{CategoryScores: map[domain.ModerationCategory]float64{domain.CategoryHate: 0.75}},
			{CategoryScores: map[domain.ModerationCategory]float64{domain.CategoryHate: 0.1}},
		},
		rewriteText: "safe text",
		onModerate:  func() { calls++ },
	}
	mgr := New(primary, nil, standardPolicy(), nil)

	outcome, err := mgr.ModerateAndRewrite(context.Background(), "bad text", "be nice", nil)
	if err != nil {
		t.Fatalf("ModerateAndRewrite: %v", err)
	}
	if !outcome.WasRewritten {
		t.Fatalf("expected a rewrite to have occurred")
	}
	if outcome.Rewritten != "safe text" {
		t.Fatalf("expected rewritten text 'safe text', got %q", outcome.Rewritten)
	}
	if outcome.RewriteVerdict == nil || outcome.RewriteVerdict.Flagged {
		t.Fatalf("expected re-moderation to approve the rewrite, got %+v", outcome.RewriteVerdict)
	}
	if calls != 2 {
		t.Fatalf("expected exactly two moderate calls (original + rewrite), got %d", calls)
	}
}

// mockProviderSeq returns a different verdict on each successive Moderate call.
type mockProviderSeq struct {
	verdicts    []domain.ModerationVerdict
	idx         int
	rewriteText string
	onModerate  func()
}

func (m *mockProviderSeq) Name() string                             { return "seq" }
func (m *mockProviderSeq) Healthy(ctx context.Context) bool          { return true }

func (m *mockProviderSeq) Moderate(ctx context.Context, text string, gctx *providers.GenerationContext) (domain.ModerationVerdict, error) {
	if m.onModerate != nil {
		m.onModerate()
	}
	v := m.verdicts[m.idx]
	if m.idx < len(m.verdicts)-1 {
		m.idx++
	}
	return v, nil
}

func (m *mockProviderSeq) ModerateBatch(ctx context.Context, texts []string) ([]domain.ModerationVerdict, error) {
	return nil, nil
}

func (m *mockProviderSeq) RewriteContent(ctx context.Context, text, guidelines string, gctx *providers.GenerationContext) (domain.RewriteOutcome, error) {
	return domain.RewriteOutcome{Original: text, Rewritten: m.rewriteText}, nil
}
