package strategy

import (
	"testing"

	"tokensentinel/internal/domain"
)

func sig(action domain.SignalAction, confidence, size float64, reason string) *domain.StrategySignal {
	return &domain.StrategySignal{Action: action, Confidence: confidence, SuggestedSizeBase: size, Reason: reason}
}

func TestResolveConflictsSellWins(t *testing.T) {
	signals := []*domain.StrategySignal{
		sig(domain.ActionBuy, 0.9, 1.0, "momentum"),
		sig(domain.ActionBuy, 0.8, 1.5, "snipe"),
		sig(domain.ActionSell, 0.6, 0, "reversal"),
	}

	action, size, _ := resolveConflicts(signals, nil, nil)
	if action != domain.ActionSell {
		t.Fatalf("expected SELL to win over a majority of BUY signals, got %v", action)
	}
	if size != 0 {
		t.Errorf("a SELL resolution should carry no suggested size, got %v", size)
	}
}

func TestResolveConflictsBuySizesByConfidenceWeightedSum(t *testing.T) {
	signals := []*domain.StrategySignal{
		sig(domain.ActionBuy, 0.8, 1.0, "a"),
		sig(domain.ActionBuy, 0.9, 2.5, "b"),
	}
	action, size, _ := resolveConflicts(signals, nil, nil)
	if action != domain.ActionBuy {
		t.Fatalf("expected BUY, got %v", action)
	}
	want := 0.8*1.0 + 0.9*2.5
	if size != want {
		t.Errorf("expected confidence-weighted sum %v, got %v", want, size)
	}
}

func TestResolveConflictsHoldOnlyWhenNoActionableSignals(t *testing.T) {
	signals := []*domain.StrategySignal{
		{Action: domain.ActionHold},
	}
	action, _, _ := resolveConflicts(signals, nil, nil)
	if action != domain.ActionHold {
		t.Errorf("expected HOLD, got %v", action)
	}
}

func TestCombineVetoesBuyUnderHighRisk(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{MaxPerMintBase: 10, MaxPortfolioBase: 100})
	signals := []*domain.StrategySignal{sig(domain.ActionBuy, 0.9, 1.0, "momentum")}
	report := domain.ThreatReport{RiskLevel: domain.RiskHigh, Composite: 0.7}

	intent := a.Combine("mintA", signals, report, 0, 0, nil)
	if intent != nil {
		t.Error("a BUY signal under HIGH risk should be vetoed")
	}
}

func TestCombineBelowConfidenceGateIsNil(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{MaxPerMintBase: 10, MaxPortfolioBase: 100})
	signals := []*domain.StrategySignal{sig(domain.ActionBuy, 0.5, 1.0, "weak")}
	report := domain.ThreatReport{RiskLevel: domain.RiskSafe, Composite: 0.1}

	intent := a.Combine("mintA", signals, report, 0, 0, nil)
	if intent != nil {
		t.Error("a signal below the confidence gate should produce no intent")
	}
}

func TestCombineDampsSizeByComposite(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{MaxPerMintBase: 10, MaxPortfolioBase: 100})
	signals := []*domain.StrategySignal{sig(domain.ActionBuy, 0.9, 1.0, "momentum")}
	report := domain.ThreatReport{RiskLevel: domain.RiskSafe, Composite: 0.5}

	intent := a.Combine("mintA", signals, report, 0, 0, nil)
	if intent == nil {
		t.Fatal("expected a trade intent")
	}
	// suggested size 1.0 weighted by confidence 0.9, then damped by (1-0.5)
	want := 1.0 * 0.9 * (1 - 0.5)
	if intent.SizeBase != want {
		t.Errorf("expected damped confidence-weighted size %v, got %v", want, intent.SizeBase)
	}
}

func TestCombineEnforcesPerMintCapitalCeiling(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{MaxPerMintBase: 1.0, MaxPortfolioBase: 100})
	signals := []*domain.StrategySignal{sig(domain.ActionBuy, 0.9, 2.0, "momentum")}
	report := domain.ThreatReport{RiskLevel: domain.RiskSafe, Composite: 0.0}

	intent := a.Combine("mintA", signals, report, 0.5, 0.5, nil)
	if intent == nil {
		t.Fatal("expected a trade intent")
	}
	if intent.SizeBase != 0.5 {
		t.Errorf("expected size capped to remaining per-mint budget 0.5, got %v", intent.SizeBase)
	}
}

func TestCombineEnforcesPortfolioCeiling(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{MaxPerMintBase: 10, MaxPortfolioBase: 1.0})
	signals := []*domain.StrategySignal{sig(domain.ActionBuy, 0.9, 2.0, "momentum")}
	report := domain.ThreatReport{RiskLevel: domain.RiskSafe, Composite: 0.0}

	portfolioCommitted := 0.8
	intent := a.Combine("mintA", signals, report, 0, portfolioCommitted, nil)
	if intent == nil {
		t.Fatal("expected a trade intent")
	}
	want := 1.0 - portfolioCommitted // remaining portfolio budget, computed in float64
	if intent.SizeBase != want {
		t.Errorf("expected size capped to remaining portfolio budget %v, got %v", want, intent.SizeBase)
	}
}

func TestCombineEnforcesPerStrategyCeiling(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{
		MaxPerMintBase:   10,
		MaxPortfolioBase: 100,
		PerStrategyBase:  map[string]float64{"momentum": 1.0},
	})
	signals := []*domain.StrategySignal{
		{Action: domain.ActionBuy, Confidence: 0.9, SuggestedSizeBase: 2.0, StrategyTag: "momentum", Reason: "momentum"},
	}
	report := domain.ThreatReport{RiskLevel: domain.RiskSafe, Composite: 0.0}

	intent := a.Combine("mintA", signals, report, 0, 0, map[string]float64{"momentum": 0.4})
	if intent == nil {
		t.Fatal("expected a trade intent")
	}
	// 2.0*0.9=1.8 requested, but momentum has only 1.0-0.4=0.6 of its
	// own ceiling left, so the contribution is clipped there before the
	// per-mint/portfolio ceilings and composite damping ever see it.
	if intent.SizeBase != 0.6 {
		t.Errorf("expected size capped to remaining per-strategy budget 0.6, got %v", intent.SizeBase)
	}
}

func TestCombineDropsStrategyAtZeroRemainingCeiling(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{
		MaxPerMintBase:   10,
		MaxPortfolioBase: 100,
		PerStrategyBase:  map[string]float64{"momentum": 1.0},
	})
	signals := []*domain.StrategySignal{
		{Action: domain.ActionBuy, Confidence: 0.9, SuggestedSizeBase: 2.0, StrategyTag: "momentum", Reason: "momentum"},
	}
	report := domain.ThreatReport{RiskLevel: domain.RiskSafe, Composite: 0.0}

	intent := a.Combine("mintA", signals, report, 0, 0, map[string]float64{"momentum": 1.0})
	if intent != nil {
		t.Errorf("expected no intent once a strategy's ceiling is fully committed, got %+v", intent)
	}
}

func TestCombineNoSignalsReturnsNil(t *testing.T) {
	a := NewAggregator(nil, CapitalLimits{MaxPerMintBase: 10, MaxPortfolioBase: 100})
	if intent := a.Combine("mintA", nil, domain.ThreatReport{}, 0, 0, nil); intent != nil {
		t.Error("no signals should produce no intent")
	}
}

func TestKellySizeHalvesAndCapsAt25Percent(t *testing.T) {
	// b=2, p=0.9, q=0.1 -> kelly=(2*0.9-0.1)/2=0.85 -> half=0.425 -> capped to 0.25
	size := KellySize(0.9, 20, 10, 100)
	if size != 25 {
		t.Errorf("expected KellySize capped at 25%% of available capital (25), got %v", size)
	}
}

func TestKellySizeNegativeEdgeReturnsZero(t *testing.T) {
	// b=1, p=0.3, q=0.7 -> kelly=(1*0.3-0.7)/1 = -0.4, negative edge
	size := KellySize(0.3, 10, 10, 100)
	if size != 0 {
		t.Errorf("a negative Kelly edge should size to 0, got %v", size)
	}
}

func TestKellySizeZeroAvgLossOrWinReturnsZero(t *testing.T) {
	if size := KellySize(0.9, 20, 0, 100); size != 0 {
		t.Errorf("zero avgLoss should size to 0, got %v", size)
	}
	if size := KellySize(0.9, 0, 10, 100); size != 0 {
		t.Errorf("zero avgWin should size to 0, got %v", size)
	}
}

func TestRecordOutcomeTracksWinsAndLosses(t *testing.T) {
	a := NewAggregator([]Strategy{fakeStrategy{name: "momentum"}}, CapitalLimits{})
	a.RecordOutcome("momentum", 5.0)
	a.RecordOutcome("momentum", -2.0)

	snap := a.StatsSnapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 stat entry, got %d", len(snap))
	}
	s := snap[0]
	if s.TradesWon != 1 || s.TradesLost != 1 {
		t.Errorf("expected 1 win and 1 loss, got won=%d lost=%d", s.TradesWon, s.TradesLost)
	}
	if s.TotalPnL != 3.0 {
		t.Errorf("expected total PnL 3.0, got %v", s.TotalPnL)
	}
}

type fakeStrategy struct{ name string }

func (f fakeStrategy) Name() string { return f.name }
func (f fakeStrategy) Analyze(mint string, prices []PricePoint) (*domain.StrategySignal, error) {
	return nil, nil
}
func (f fakeStrategy) ShouldExit(mint string, pos *domain.Position, prices []PricePoint) (bool, string) {
	return false, ""
}
