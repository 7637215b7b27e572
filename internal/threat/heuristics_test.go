package threat

import (
	"context"
	"errors"
	"testing"
)

type fakeMLScorer struct {
	risk float64
	err  error
}

func (f fakeMLScorer) PredictRisk(ctx context.Context, mint string) (float64, error) {
	return f.risk, f.err
}

type fakeSocialFeed struct {
	virality, botRatio float64
	viralityErr, botErr error
}

func (f fakeSocialFeed) Virality(ctx context.Context, mint string) (float64, error) {
	return f.virality, f.viralityErr
}
func (f fakeSocialFeed) BotRatio(ctx context.Context, mint string) (float64, error) {
	return f.botRatio, f.botErr
}

func TestMLHeuristicDelegatesToScorer(t *testing.T) {
	h := NewMLHeuristic("ml", fakeMLScorer{risk: 0.42})
	if h.Bucket() != BucketRisk {
		t.Errorf("expected ML heuristic in the risk bucket, got %v", h.Bucket())
	}
	score, err := h.Score(context.Background(), "mintA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.42 {
		t.Errorf("expected score 0.42, got %v", score)
	}
}

func TestMLHeuristicPropagatesError(t *testing.T) {
	h := NewMLHeuristic("ml", fakeMLScorer{err: errors.New("model unavailable")})
	if _, err := h.Score(context.Background(), "mintA"); err == nil {
		t.Error("expected the model's error to propagate")
	}
}

func TestSocialHeuristicMultipliesViralityByBotRatio(t *testing.T) {
	h := NewSocialHeuristic("social", fakeSocialFeed{virality: 0.8, botRatio: 0.5})
	if h.Bucket() != BucketMarket {
		t.Errorf("expected social heuristic in the market bucket, got %v", h.Bucket())
	}
	score, err := h.Score(context.Background(), "mintA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.4 {
		t.Errorf("expected virality*botRatio = 0.4, got %v", score)
	}
}

func TestSocialHeuristicPropagatesViralityError(t *testing.T) {
	h := NewSocialHeuristic("social", fakeSocialFeed{viralityErr: errors.New("feed down")})
	if _, err := h.Score(context.Background(), "mintA"); err == nil {
		t.Error("expected the virality fetch error to propagate")
	}
}

func TestSocialHeuristicPropagatesBotRatioError(t *testing.T) {
	h := NewSocialHeuristic("social", fakeSocialFeed{virality: 0.5, botErr: errors.New("feed down")})
	if _, err := h.Score(context.Background(), "mintA"); err == nil {
		t.Error("expected the bot ratio fetch error to propagate")
	}
}

func TestFuncHeuristicWrapsPlainFunction(t *testing.T) {
	h := &FuncHeuristic{
		HeuristicName:   "liquidity_lock",
		HeuristicBucket: BucketRisk,
		Fn: func(ctx context.Context, mint string) (float64, error) {
			return 0.1, nil
		},
	}
	if h.Name() != "liquidity_lock" {
		t.Errorf("unexpected name: %q", h.Name())
	}
	score, err := h.Score(context.Background(), "mintA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0.1 {
		t.Errorf("expected score 0.1, got %v", score)
	}
}
