// Package strategy evaluates independent trading strategies against a
// mint's price history and fuses their signals into one trade intent,
// gated by the threat engine's composite score. The Strategy interface
// and aggregation shape carry forward the teacher's strategy.Strategy
// and risk.Manager sizing logic, generalized from symbol/kline inputs
// to mint/price-point inputs.
package strategy

import (
	"time"

	"tokensentinel/internal/domain"
)

// PricePoint is one OHLCV sample, the chain-agnostic replacement for the
// teacher's exchange-specific Kline.
type PricePoint struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Strategy is one independent signal generator. Analyze produces a
// signal from price history; ShouldExit lets the aggregator ask a
// strategy's opinion on an existing position without re-running the
// full analysis.
type Strategy interface {
	Name() string
	Analyze(mint string, prices []PricePoint) (*domain.StrategySignal, error)
	ShouldExit(mint string, pos *domain.Position, prices []PricePoint) (bool, string)
}

// Stats tracks a strategy's lifetime performance for the stats endpoint
// and for future weighting, grounded on the teacher's per-strategy P&L
// tracking inside risk.Manager.
type Stats struct {
	Name          string
	SignalsEmitted int
	TradesWon     int
	TradesLost    int
	TotalPnL      float64
}

func (s *Stats) WinRate() float64 {
	total := s.TradesWon + s.TradesLost
	if total == 0 {
		return 0
	}
	return float64(s.TradesWon) / float64(total)
}
