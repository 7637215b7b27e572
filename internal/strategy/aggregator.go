package strategy

import (
	"sync"

	"tokensentinel/internal/domain"
)

const (
	confidenceGate      = 0.7
	defaultKellyFraction = 0.5 // half-Kelly, matching the teacher's conservative sizing
)

// MinTradeSizeBase is the floor below which a trade intent is dropped
// rather than submitted, both inside the combinator's own sizing and
// wherever a caller re-checks a capital-scaled-down size afterward
// (e.g. the position manager's capital pool running low). Matches the
// teacher's dust-trade floor.
const MinTradeSizeBase = 0.005

// CapitalLimits bounds how much of the capital pool a single trade
// intent may commit, enforced after Kelly-style sizing and composite
// damping are applied.
type CapitalLimits struct {
	MaxPerMintBase   float64
	MaxPortfolioBase float64

	// PerStrategyBase caps how much capital each strategy tag may have
	// committed at once, keyed by Strategy.Name(). Grounded on the
	// original Python combinator's capital_allocation fraction of total
	// capital per strategy; a tag absent from this map has no
	// per-strategy ceiling of its own, only the per-mint/portfolio ones.
	PerStrategyBase map[string]float64
}

// Aggregator runs every registered strategy, gates/vetoes/resolves
// conflicts, and sizes the resulting trade intent. Grounded on the
// teacher's risk.Manager position-sizing pipeline, generalized from a
// single active strategy to an arbitrary set combined per-mint.
type Aggregator struct {
	mu         sync.Mutex
	strategies []Strategy
	stats      map[string]*Stats
	limits     CapitalLimits
}

// NewAggregator builds an aggregator over the given strategies.
func NewAggregator(strategies []Strategy, limits CapitalLimits) *Aggregator {
	stats := make(map[string]*Stats, len(strategies))
	for _, s := range strategies {
		stats[s.Name()] = &Stats{Name: s.Name()}
	}
	return &Aggregator{strategies: strategies, stats: stats, limits: limits}
}

// Evaluate runs every strategy against mint's price history, combines
// the resulting signals, and returns a trade intent (or nil when the
// combined signal doesn't clear the confidence gate or is vetoed).
//
// threatReport informs two gates: a HIGH/CRITICAL risk level vetoes any
// BUY outright, and composite score dampens position size via
// (1-composite) even when the trade is allowed through.
//
// committedByStrategy reports, per strategy tag, how much capital that
// strategy currently has committed across open positions — the view
// the per-strategy ceiling is checked against.
func (a *Aggregator) Evaluate(mint string, prices []PricePoint, report domain.ThreatReport, committedBase, portfolioCommittedBase float64, committedByStrategy map[string]float64) *domain.TradeIntent {
	var signals []*domain.StrategySignal

	a.mu.Lock()
	for _, s := range a.strategies {
		sig, err := s.Analyze(mint, prices)
		if err != nil || sig == nil {
			continue
		}
		a.stats[s.Name()].SignalsEmitted++
		signals = append(signals, sig)
	}
	a.mu.Unlock()

	return a.combine(mint, signals, report, committedBase, portfolioCommittedBase, committedByStrategy)
}

// Combine lets callers feed in signals produced outside the price-
// history path (whale-copy observations, social-signal readings)
// alongside any that Analyze already emitted.
func (a *Aggregator) Combine(mint string, signals []*domain.StrategySignal, report domain.ThreatReport, committedBase, portfolioCommittedBase float64, committedByStrategy map[string]float64) *domain.TradeIntent {
	return a.combine(mint, signals, report, committedBase, portfolioCommittedBase, committedByStrategy)
}

// EvaluateWithExtra runs every registered strategy's Analyze the same
// way Evaluate does, then merges in signals sourced outside the price-
// history path — WhaleCopyStrategy.ObserveWhaleBuy and
// SocialSignalStrategy.EvaluateSocial, whose entry point isn't Analyze —
// before a single confidence-gate-and-resolve pass over the combined set.
func (a *Aggregator) EvaluateWithExtra(mint string, prices []PricePoint, extra []*domain.StrategySignal, report domain.ThreatReport, committedBase, portfolioCommittedBase float64, committedByStrategy map[string]float64) *domain.TradeIntent {
	var signals []*domain.StrategySignal

	a.mu.Lock()
	for _, s := range a.strategies {
		sig, err := s.Analyze(mint, prices)
		if err != nil || sig == nil {
			continue
		}
		a.stats[s.Name()].SignalsEmitted++
		signals = append(signals, sig)
	}
	for _, sig := range extra {
		if sig == nil {
			continue
		}
		if stat, ok := a.stats[sig.StrategyTag]; ok {
			stat.SignalsEmitted++
		}
		signals = append(signals, sig)
	}
	a.mu.Unlock()

	return a.combine(mint, signals, report, committedBase, portfolioCommittedBase, committedByStrategy)
}

func (a *Aggregator) combine(mint string, signals []*domain.StrategySignal, report domain.ThreatReport, committedBase, portfolioCommittedBase float64, committedByStrategy map[string]float64) *domain.TradeIntent {
	if len(signals) == 0 {
		return nil
	}

	// Each signal must individually clear the confidence gate before it
	// is allowed to influence the combined action or size — a strong
	// signal must never be diluted below the gate by a weak one sitting
	// alongside it, nor vice versa.
	gated := make([]*domain.StrategySignal, 0, len(signals))
	for _, sig := range signals {
		if sig.Confidence >= confidenceGate {
			gated = append(gated, sig)
		}
	}
	if len(gated) == 0 {
		return nil
	}

	action, sizeBase, reasons := resolveConflicts(gated, a.limits.PerStrategyBase, committedByStrategy)

	if action == domain.ActionBuy && (report.RiskLevel == domain.RiskHigh || report.RiskLevel == domain.RiskCritical) {
		return nil // veto: BUY is never allowed through elevated risk
	}

	dampedSize := sizeBase * (1 - report.Composite)
	if dampedSize < MinTradeSizeBase {
		return nil
	}

	if action == domain.ActionBuy {
		if committedBase+dampedSize > a.limits.MaxPerMintBase {
			dampedSize = a.limits.MaxPerMintBase - committedBase
		}
		if portfolioCommittedBase+dampedSize > a.limits.MaxPortfolioBase {
			dampedSize = a.limits.MaxPortfolioBase - portfolioCommittedBase
		}
		if dampedSize < MinTradeSizeBase {
			return nil
		}
	}

	return &domain.TradeIntent{
		MintAddress:     mint,
		Action:          action,
		SizeBase:        dampedSize,
		ReasonAggregate: joinReasons(reasons),
	}
}

// resolveConflicts applies SELL-wins conflict resolution: if any
// strategy signals SELL, the combined action is SELL regardless of how
// many signaled BUY, since protecting an open position against an exit
// signal takes priority over adding size. The BUY size is the sum of
// each surviving signal's suggested size weighted by its own
// confidence, so two concurrent BUY signals size larger than either
// alone instead of collapsing to the single largest suggestion.
//
// Each BUY signal's weighted contribution is first clipped to what
// remains of its own strategy's capital-allocation ceiling (already-
// committed capital plus whatever this same call has already attributed
// to that strategy) before being added to the combined size, the same
// per-strategy cap the original Python combinator enforces via
// capital_allocation before it ever reaches portfolio-wide sizing.
func resolveConflicts(signals []*domain.StrategySignal, perStrategyBase, committedByStrategy map[string]float64) (domain.SignalAction, float64, []string) {
	var sizeBase float64
	var buyReasons, sellReasons []string
	hasSell := false
	spentByStrategy := make(map[string]float64, len(signals))

	for _, sig := range signals {
		switch sig.Action {
		case domain.ActionSell:
			hasSell = true
			sellReasons = append(sellReasons, sig.Reason)
		case domain.ActionBuy:
			contribution := sig.SuggestedSizeBase * sig.Confidence
			if ceiling, capped := perStrategyBase[sig.StrategyTag]; capped {
				remaining := ceiling - committedByStrategy[sig.StrategyTag] - spentByStrategy[sig.StrategyTag]
				if remaining <= 0 {
					continue
				}
				if contribution > remaining {
					contribution = remaining
				}
			}
			spentByStrategy[sig.StrategyTag] += contribution
			sizeBase += contribution
			buyReasons = append(buyReasons, sig.Reason)
		}
	}

	if hasSell {
		return domain.ActionSell, 0, sellReasons
	}
	if len(buyReasons) > 0 {
		return domain.ActionBuy, sizeBase, buyReasons
	}
	return domain.ActionHold, 0, nil
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

// KellySize computes a half-Kelly position size from historical win
// rate and average win/loss ratio, grounded on the teacher's
// calculateKellySize. Capped at 25% of available capital regardless of
// what the raw Kelly fraction suggests, matching the teacher's safety
// cap.
func KellySize(winRate, avgWin, avgLoss, availableBase float64) float64 {
	if avgLoss <= 0 || avgWin <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	p := winRate
	q := 1 - p
	kelly := (b*p - q) / b
	if kelly <= 0 {
		return 0
	}
	halfKelly := kelly * defaultKellyFraction
	if halfKelly > 0.25 {
		halfKelly = 0.25
	}
	return availableBase * halfKelly
}

// StatsSnapshot returns a copy of every strategy's running stats.
func (a *Aggregator) StatsSnapshot() []Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Stats, 0, len(a.stats))
	for _, s := range a.stats {
		out = append(out, *s)
	}
	return out
}

// RecordOutcome updates a strategy's win/loss tally after a position
// closes, for the stats endpoint and future weighting.
func (a *Aggregator) RecordOutcome(strategyTag string, pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[strategyTag]
	if !ok {
		return
	}
	s.TotalPnL += pnl
	if pnl >= 0 {
		s.TradesWon++
	} else {
		s.TradesLost++
	}
}
