// Package threat fuses independent risk, technical-integrity, and
// market-health heuristics into one composite threat report per mint,
// under a hard wall-clock deadline. The fan-out/fuse shape is grounded
// on the teacher's risk manager combined with its pattern/confluence
// scorers; the deadline-bounded dispatch reuses internal/workerpool.
package threat

import (
	"context"
	"sync"
	"time"

	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
	"tokensentinel/internal/workerpool"
)

// Bucket is one of the three score categories a heuristic contributes to.
type Bucket string

const (
	BucketRisk      Bucket = "risk"
	BucketTechnical Bucket = "technical"
	BucketMarket    Bucket = "market"
)

// Heuristic is one independent scorer. Implementations must be safe to
// call concurrently and should respect ctx's deadline; a heuristic that
// overruns the deadline is simply excluded from the composite rather
// than blocking the report.
type Heuristic interface {
	Name() string
	Bucket() Bucket
	Score(ctx context.Context, mint string) (float64, error)
}

const (
	weightRisk      = 0.4
	weightTechnical = 0.3
	weightMarket    = 0.3

	compositeDeadline = 1500 * time.Millisecond
	memoizeWindow     = 60 * time.Second
	trendBufferSize   = 16
	trendSlopeWindow  = 8
)

// Engine dispatches every registered heuristic for a mint and fuses the
// results into a domain.ThreatReport.
type Engine struct {
	heuristics []Heuristic

	mu      sync.Mutex
	cache   map[string]cachedReport
	history map[string]*trendBuffer

	log *logging.Logger
}

type cachedReport struct {
	report   domain.ThreatReport
	cachedAt time.Time
}

// NewEngine creates an engine over the given heuristics.
func NewEngine(heuristics []Heuristic) *Engine {
	return &Engine{
		heuristics: heuristics,
		cache:      make(map[string]cachedReport),
		history:    make(map[string]*trendBuffer),
		log:        logging.WithComponent("threat"),
	}
}

// Score produces a ThreatReport for mint, serving from the 60-second
// memoization cache when fresh.
func (e *Engine) Score(ctx context.Context, mint string) domain.ThreatReport {
	e.mu.Lock()
	if cached, ok := e.cache[mint]; ok && time.Since(cached.cachedAt) < memoizeWindow {
		e.mu.Unlock()
		return cached.report
	}
	e.mu.Unlock()

	deadlineCtx, cancel := context.WithTimeout(ctx, compositeDeadline)
	defer cancel()

	fns := make([]func(context.Context) (bucketScore, error), len(e.heuristics))
	for i, h := range e.heuristics {
		h := h
		fns[i] = func(ctx context.Context) (bucketScore, error) {
			score, err := h.Score(ctx, mint)
			return bucketScore{name: h.Name(), bucket: h.Bucket(), value: score}, err
		}
	}

	results := workerpool.Dispatch(deadlineCtx, fns)
	report := e.fuse(mint, results)

	e.mu.Lock()
	e.cache[mint] = cachedReport{report: report, cachedAt: time.Now()}
	e.mu.Unlock()

	return report
}

type bucketScore struct {
	name   string
	bucket Bucket
	value  float64
}

// fuse aggregates per-heuristic results into the composite report. A
// heuristic that errored or missed the deadline is excluded, not
// defaulted to zero, but a totally empty bucket set resolves to CRITICAL
// per the conservative empty-report policy: absence of signal must never
// read as safety.
func (e *Engine) fuse(mint string, results []workerpool.Result[bucketScore]) domain.ThreatReport {
	var riskSum, riskN, techSum, techN, marketSum, marketN float64
	var factors []domain.ScoreFactor
	missing := 0

	for _, r := range results {
		if r.Err != nil {
			missing++
			continue
		}
		bs := r.Value
		switch bs.bucket {
		case BucketRisk:
			riskSum += bs.value
			riskN++
		case BucketTechnical:
			techSum += bs.value
			techN++
		case BucketMarket:
			marketSum += bs.value
			marketN++
		}
		factors = append(factors, domain.ScoreFactor{Bucket: string(bs.bucket), Contribution: bs.value})
	}

	total := len(results)
	if total == 0 || missing == total {
		return domain.ThreatReport{
			MintAddress:       mint,
			Composite:         1.0,
			RiskLevel:         domain.RiskCritical,
			Confidence:        domain.ConfidenceInterval{Lower: 1.0, Upper: 1.0, UncertaintyClass: domain.UncertaintyHigh},
			GeneratedAt:       time.Now(),
			MissingHeuristics: missing,
			TotalHeuristics:   total,
		}
	}

	riskScore := avg(riskSum, riskN)
	techScore := avg(techSum, techN)
	marketScore := avg(marketSum, marketN)
	composite := weightRisk*riskScore + weightTechnical*techScore + weightMarket*marketScore

	missingFrac := float64(missing) / float64(total)
	uncertainty := domain.UncertaintyLow
	spread := 0.05
	switch {
	case missingFrac > 0.3:
		uncertainty = domain.UncertaintyHigh
		spread = 0.2
	case missingFrac >= 0.1:
		uncertainty = domain.UncertaintyMed
		spread = 0.1
	}

	topFactors := topN(factors, 3)

	trend, acceleration := e.updateTrend(mint, composite)

	return domain.ThreatReport{
		MintAddress:       mint,
		ScoreRisk:         riskScore,
		ScoreTechnical:    techScore,
		ScoreMarket:       marketScore,
		Composite:         composite,
		RiskLevel:         domain.LevelFromComposite(composite),
		Confidence:        domain.ConfidenceInterval{Lower: clamp01(composite - spread), Upper: clamp01(composite + spread), UncertaintyClass: uncertainty},
		TopFactors:        topFactors,
		GeneratedAt:       time.Now(),
		MissingHeuristics: missing,
		TotalHeuristics:   total,
		Trend:             trend,
		Acceleration:      acceleration,
	}
}

func avg(sum, n float64) float64 {
	if n == 0 {
		return 0
	}
	return sum / n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func topN(factors []domain.ScoreFactor, n int) []domain.ScoreFactor {
	sorted := make([]domain.ScoreFactor, len(factors))
	copy(sorted, factors)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Contribution > sorted[j-1].Contribution; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// trendBuffer is a fixed-size ring of recent composite scores used to
// compute short-horizon trend and acceleration.
type trendBuffer struct {
	scores [trendBufferSize]float64
	count  int
	next   int
}

func (e *Engine) updateTrend(mint string, composite float64) (trend, acceleration float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tb, ok := e.history[mint]
	if !ok {
		tb = &trendBuffer{}
		e.history[mint] = tb
	}
	tb.scores[tb.next] = composite
	tb.next = (tb.next + 1) % trendBufferSize
	if tb.count < trendBufferSize {
		tb.count++
	}

	if tb.count < 2 {
		return 0, 0
	}

	window := trendSlopeWindow
	if tb.count < window {
		window = tb.count
	}
	ordered := tb.ordered()
	recent := ordered[len(ordered)-window:]

	trend = recent[len(recent)-1] - recent[0]
	if len(recent) >= 4 {
		mid := len(recent) / 2
		firstHalfSlope := recent[mid-1] - recent[0]
		secondHalfSlope := recent[len(recent)-1] - recent[mid]
		acceleration = secondHalfSlope - firstHalfSlope
	}
	return trend, acceleration
}

// ordered returns the buffer's contents in chronological order.
func (tb *trendBuffer) ordered() []float64 {
	out := make([]float64, 0, tb.count)
	start := tb.next - tb.count
	for i := 0; i < tb.count; i++ {
		idx := ((start+i)%trendBufferSize + trendBufferSize) % trendBufferSize
		out = append(out, tb.scores[idx])
	}
	return out
}
