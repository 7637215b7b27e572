package threat

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokensentinel/internal/domain"
)

type fakeHeuristic struct {
	name   string
	bucket Bucket
	value  float64
	err    error
	delay  time.Duration
}

func (f fakeHeuristic) Name() string   { return f.name }
func (f fakeHeuristic) Bucket() Bucket { return f.bucket }
func (f fakeHeuristic) Score(ctx context.Context, mint string) (float64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.value, f.err
}

func TestScoreFusesBucketsIntoComposite(t *testing.T) {
	e := NewEngine([]Heuristic{
		fakeHeuristic{name: "risk1", bucket: BucketRisk, value: 0.5},
		fakeHeuristic{name: "tech1", bucket: BucketTechnical, value: 0.2},
		fakeHeuristic{name: "market1", bucket: BucketMarket, value: 0.8},
	})

	report := e.Score(context.Background(), "mintA")

	want := 0.4*0.5 + 0.3*0.2 + 0.3*0.8
	if diff := report.Composite - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("composite = %v, want %v", report.Composite, want)
	}
	if report.MissingHeuristics != 0 {
		t.Errorf("expected no missing heuristics, got %d", report.MissingHeuristics)
	}
}

func TestScoreExcludesErroredHeuristics(t *testing.T) {
	e := NewEngine([]Heuristic{
		fakeHeuristic{name: "risk1", bucket: BucketRisk, value: 0.9},
		fakeHeuristic{name: "risk2", bucket: BucketRisk, err: errors.New("boom")},
	})

	report := e.Score(context.Background(), "mintA")

	if report.ScoreRisk != 0.9 {
		t.Errorf("expected the errored heuristic excluded (not averaged as 0), got risk score %v", report.ScoreRisk)
	}
	if report.MissingHeuristics != 1 {
		t.Errorf("expected 1 missing heuristic, got %d", report.MissingHeuristics)
	}
}

func TestScoreEmptyReportIsCritical(t *testing.T) {
	e := NewEngine([]Heuristic{
		fakeHeuristic{name: "risk1", bucket: BucketRisk, err: errors.New("boom")},
	})

	report := e.Score(context.Background(), "mintA")

	if report.RiskLevel != domain.RiskCritical {
		t.Errorf("a report with no usable heuristics should default to CRITICAL, got %v", report.RiskLevel)
	}
	if report.Composite != 1.0 {
		t.Errorf("expected composite 1.0 for an all-missing report, got %v", report.Composite)
	}
}

func TestScoreNoHeuristicsIsCritical(t *testing.T) {
	e := NewEngine(nil)
	report := e.Score(context.Background(), "mintA")
	if report.RiskLevel != domain.RiskCritical {
		t.Errorf("an engine with zero heuristics should report CRITICAL, got %v", report.RiskLevel)
	}
}

func TestScoreIsMemoizedWithinWindow(t *testing.T) {
	calls := 0
	e := NewEngine([]Heuristic{
		countingHeuristic{fn: func() { calls++ }},
	})

	e.Score(context.Background(), "mintA")
	e.Score(context.Background(), "mintA")

	if calls != 1 {
		t.Errorf("second Score call within the memoize window should be served from cache, got %d underlying calls", calls)
	}
}

type countingHeuristic struct {
	fn func()
}

func (c countingHeuristic) Name() string   { return "counter" }
func (c countingHeuristic) Bucket() Bucket { return BucketRisk }
func (c countingHeuristic) Score(ctx context.Context, mint string) (float64, error) {
	c.fn()
	return 0.5, nil
}

func TestScoreSlowHeuristicExcludedByDeadline(t *testing.T) {
	e := NewEngine([]Heuristic{
		fakeHeuristic{name: "fast", bucket: BucketRisk, value: 0.1},
		fakeHeuristic{name: "slow", bucket: BucketRisk, value: 0.9, delay: 5 * time.Second},
	})

	start := time.Now()
	report := e.Score(context.Background(), "mintA")
	elapsed := time.Since(start)

	if elapsed > 3*time.Second {
		t.Fatalf("Score should respect the composite deadline, took %v", elapsed)
	}
	if report.MissingHeuristics != 1 {
		t.Errorf("expected the slow heuristic excluded as missing, got %d missing", report.MissingHeuristics)
	}
}

func TestUpdateTrendTracksDirection(t *testing.T) {
	e := NewEngine(nil)

	scores := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
	var trend float64
	for _, s := range scores {
		trend, _ = e.updateTrend("mintA", s)
	}

	if trend <= 0 {
		t.Errorf("a monotonically increasing series should report positive trend, got %v", trend)
	}
}
