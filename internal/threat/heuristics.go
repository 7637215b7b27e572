package threat

import "context"

// MLScorer is the opaque interface an external model-serving heuristic
// implements — generalized from the teacher's ai/ml predictor, which
// this engine treats as an interchangeable black box rather than
// importing a specific model client directly.
type MLScorer interface {
	PredictRisk(ctx context.Context, mint string) (float64, error)
}

// SocialSignalFeed is the opaque interface a social/sentiment provider
// implements — generalized from the teacher's ai/sentiment analyzer.
type SocialSignalFeed interface {
	Virality(ctx context.Context, mint string) (float64, error)
	BotRatio(ctx context.Context, mint string) (float64, error)
}

// mlHeuristic adapts an MLScorer into the risk bucket.
type mlHeuristic struct {
	name  string
	model MLScorer
}

// NewMLHeuristic wraps an MLScorer as a risk-bucket Heuristic.
func NewMLHeuristic(name string, model MLScorer) Heuristic {
	return &mlHeuristic{name: name, model: model}
}

func (m *mlHeuristic) Name() string   { return m.name }
func (m *mlHeuristic) Bucket() Bucket { return BucketRisk }
func (m *mlHeuristic) Score(ctx context.Context, mint string) (float64, error) {
	return m.model.PredictRisk(ctx, mint)
}

// socialHeuristic adapts a SocialSignalFeed's virality/bot-ratio reading
// into the market bucket: high virality paired with a high bot ratio is
// treated as manufactured hype rather than organic demand.
type socialHeuristic struct {
	name string
	feed SocialSignalFeed
}

// NewSocialHeuristic wraps a SocialSignalFeed as a market-bucket Heuristic.
func NewSocialHeuristic(name string, feed SocialSignalFeed) Heuristic {
	return &socialHeuristic{name: name, feed: feed}
}

func (s *socialHeuristic) Name() string   { return s.name }
func (s *socialHeuristic) Bucket() Bucket { return BucketMarket }
func (s *socialHeuristic) Score(ctx context.Context, mint string) (float64, error) {
	virality, err := s.feed.Virality(ctx, mint)
	if err != nil {
		return 0, err
	}
	botRatio, err := s.feed.BotRatio(ctx, mint)
	if err != nil {
		return 0, err
	}
	// A viral mint with a low bot ratio reads as organic and safer; the
	// same virality with a high bot ratio reads as manufactured hype.
	return virality * botRatio, nil
}

// FuncHeuristic adapts a plain scoring function into a Heuristic,
// covering the liquidity-lock, creator-reputation, and holder-
// concentration checks that need no external dependency.
type FuncHeuristic struct {
	HeuristicName   string
	HeuristicBucket Bucket
	Fn              func(ctx context.Context, mint string) (float64, error)
}

func (f *FuncHeuristic) Name() string   { return f.HeuristicName }
func (f *FuncHeuristic) Bucket() Bucket { return f.HeuristicBucket }
func (f *FuncHeuristic) Score(ctx context.Context, mint string) (float64, error) {
	return f.Fn(ctx, mint)
}
