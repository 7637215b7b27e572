package strategy

import (
	"fmt"

	"tokensentinel/internal/domain"
)

// SnipeStrategy buys immediately on a fresh mint's first few observed
// price points, betting on early liquidity before the crowd arrives. It
// never opines on exits; the position manager's fixed exit ladder
// governs snipe positions.
type SnipeStrategy struct {
	MaxPricePoints int
}

func NewSnipeStrategy() *SnipeStrategy { return &SnipeStrategy{MaxPricePoints: 3} }

func (s *SnipeStrategy) Name() string { return "snipe" }

func (s *SnipeStrategy) Analyze(mint string, prices []PricePoint) (*domain.StrategySignal, error) {
	if len(prices) == 0 || len(prices) > s.MaxPricePoints {
		return nil, nil
	}
	return &domain.StrategySignal{
		MintAddress:       mint,
		Action:            domain.ActionBuy,
		Confidence:        0.75,
		SuggestedSizeBase: 0.02,
		StrategyTag:       s.Name(),
		Reason:            "fresh mint within snipe window",
	}, nil
}

func (s *SnipeStrategy) ShouldExit(mint string, pos *domain.Position, prices []PricePoint) (bool, string) {
	return false, ""
}

// MomentumStrategy enters on RSI/MACD confirmation of an established
// uptrend and exits when momentum reverses, the generalized descendant
// of the teacher's swing-trading strategy.
type MomentumStrategy struct {
	RSIPeriod    int
	RSIOverbought float64
	RSIOversold   float64
}

func NewMomentumStrategy() *MomentumStrategy {
	return &MomentumStrategy{RSIPeriod: 14, RSIOverbought: 70, RSIOversold: 30}
}

func (m *MomentumStrategy) Name() string { return "momentum" }

func (m *MomentumStrategy) Analyze(mint string, prices []PricePoint) (*domain.StrategySignal, error) {
	if len(prices) < m.RSIPeriod+1 {
		return nil, nil
	}
	rsi := RSI(prices, m.RSIPeriod)
	macd := MACD(prices)

	if rsi < m.RSIOversold && macd.Histogram > 0 {
		return &domain.StrategySignal{
			MintAddress:       mint,
			Action:            domain.ActionBuy,
			Confidence:        confidenceFromDistance(m.RSIOversold-rsi, 20),
			SuggestedSizeBase: 0.03,
			StrategyTag:       m.Name(),
			Reason:            fmt.Sprintf("RSI=%.1f oversold with positive MACD histogram", rsi),
			Metadata:          domain.SignalMetadata{RSI: rsi, MACDHistogram: macd.Histogram},
		}, nil
	}
	if rsi > m.RSIOverbought && macd.Histogram < 0 {
		return &domain.StrategySignal{
			MintAddress:       mint,
			Action:            domain.ActionSell,
			Confidence:        confidenceFromDistance(rsi-m.RSIOverbought, 20),
			StrategyTag:       m.Name(),
			Reason:            fmt.Sprintf("RSI=%.1f overbought with negative MACD histogram", rsi),
			Metadata:          domain.SignalMetadata{RSI: rsi, MACDHistogram: macd.Histogram},
		}, nil
	}
	return nil, nil
}

func (m *MomentumStrategy) ShouldExit(mint string, pos *domain.Position, prices []PricePoint) (bool, string) {
	if len(prices) < m.RSIPeriod+1 {
		return false, ""
	}
	rsi := RSI(prices, m.RSIPeriod)
	if rsi > m.RSIOverbought {
		return true, fmt.Sprintf("momentum reversal: RSI=%.1f", rsi)
	}
	return false, ""
}

// ReversalStrategy fades extreme short-term moves, entering against a
// sharp drop when price has pulled well below its short SMA.
type ReversalStrategy struct {
	SMAPeriod      int
	DropThreshold  float64 // fraction below SMA that triggers entry
}

func NewReversalStrategy() *ReversalStrategy {
	return &ReversalStrategy{SMAPeriod: 20, DropThreshold: 0.15}
}

func (r *ReversalStrategy) Name() string { return "reversal" }

func (r *ReversalStrategy) Analyze(mint string, prices []PricePoint) (*domain.StrategySignal, error) {
	if len(prices) < r.SMAPeriod {
		return nil, nil
	}
	sma := SMA(prices, r.SMAPeriod)
	if sma == 0 {
		return nil, nil
	}
	last := prices[len(prices)-1].Close
	dropFrac := (sma - last) / sma

	if dropFrac >= r.DropThreshold {
		return &domain.StrategySignal{
			MintAddress:       mint,
			Action:            domain.ActionBuy,
			Confidence:        confidenceFromDistance(dropFrac-r.DropThreshold, 0.25),
			SuggestedSizeBase: 0.015,
			StrategyTag:       r.Name(),
			Reason:            fmt.Sprintf("price %.1f%% below %d-period SMA", dropFrac*100, r.SMAPeriod),
		}, nil
	}
	return nil, nil
}

func (r *ReversalStrategy) ShouldExit(mint string, pos *domain.Position, prices []PricePoint) (bool, string) {
	if len(prices) < r.SMAPeriod {
		return false, ""
	}
	sma := SMA(prices, r.SMAPeriod)
	last := prices[len(prices)-1].Close
	if last >= sma {
		return true, "reversion to SMA complete"
	}
	return false, ""
}

// copyPositionRatio is the fraction of a watched wallet's own position
// size this strategy copies, matching the original whale-copy
// implementation's copy_position_ratio (0.10 — copy 10% of the whale's
// size, not half of it).
const copyPositionRatio = 0.10

// WhaleCopyStrategy follows a configured whale wallet's buys with a
// short confirmation delay, grounded on the teacher's client-order-ID
// tracking of specific counterparties.
type WhaleCopyStrategy struct {
	WatchedWallets map[string]bool
	ConfirmDelaySec int
}

func NewWhaleCopyStrategy(wallets []string) *WhaleCopyStrategy {
	watched := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		watched[w] = true
	}
	return &WhaleCopyStrategy{WatchedWallets: watched, ConfirmDelaySec: 5}
}

func (w *WhaleCopyStrategy) Name() string { return "whale_copy" }

// ObserveWhaleBuy is called by the listener/execution layer whenever a
// watched wallet's buy is seen on-chain; it produces the copy signal
// directly rather than deriving it from price history.
func (w *WhaleCopyStrategy) ObserveWhaleBuy(mint, wallet string, sizeBase float64) *domain.StrategySignal {
	if !w.WatchedWallets[wallet] {
		return nil
	}
	return &domain.StrategySignal{
		MintAddress:       mint,
		Action:            domain.ActionBuy,
		Confidence:        0.65,
		SuggestedSizeBase: sizeBase * copyPositionRatio,
		StrategyTag:       w.Name(),
		Reason:            fmt.Sprintf("watched wallet %s bought", wallet),
		Metadata:          domain.SignalMetadata{WhaleWallet: wallet, WhaleDelaySec: w.ConfirmDelaySec},
	}
}

func (w *WhaleCopyStrategy) Analyze(mint string, prices []PricePoint) (*domain.StrategySignal, error) {
	return nil, nil // signals arrive only via ObserveWhaleBuy
}

func (w *WhaleCopyStrategy) ShouldExit(mint string, pos *domain.Position, prices []PricePoint) (bool, string) {
	return false, ""
}

// SocialSignalStrategy enters on strong organic virality (high virality,
// low bot ratio), grounded on the teacher's ai/sentiment analyzer now
// exposed through the threat engine's market bucket. It never requests
// an exit: ShouldExit always returns false, so a rise in bot ratio on an
// open position does not close it.
type SocialSignalStrategy struct {
	MinVirality    float64
	MaxBotRatio    float64
}

func NewSocialSignalStrategy() *SocialSignalStrategy {
	return &SocialSignalStrategy{MinVirality: 0.6, MaxBotRatio: 0.3}
}

func (s *SocialSignalStrategy) Name() string { return "social_signals" }

// EvaluateSocial is called with the threat engine's own social-bucket
// readings rather than price history, since this strategy's signal is
// driven entirely by off-chain sentiment, not on-chain OHLCV.
func (s *SocialSignalStrategy) EvaluateSocial(mint string, virality, botRatio, sentiment float64) *domain.StrategySignal {
	if virality >= s.MinVirality && botRatio <= s.MaxBotRatio {
		return &domain.StrategySignal{
			MintAddress:       mint,
			Action:            domain.ActionBuy,
			Confidence:        confidenceFromDistance(virality-s.MinVirality, 0.4),
			SuggestedSizeBase: 0.01,
			StrategyTag:       s.Name(),
			Reason:            fmt.Sprintf("virality=%.2f bot_ratio=%.2f sentiment=%.2f", virality, botRatio, sentiment),
			Metadata:          domain.SignalMetadata{SocialVirality: virality, SocialBotRatio: botRatio, SocialSentiment: sentiment},
		}
	}
	return nil
}

func (s *SocialSignalStrategy) Analyze(mint string, prices []PricePoint) (*domain.StrategySignal, error) {
	return nil, nil // signals arrive only via EvaluateSocial
}

func (s *SocialSignalStrategy) ShouldExit(mint string, pos *domain.Position, prices []PricePoint) (bool, string) {
	return false, ""
}

// confidenceFromDistance maps a nonnegative distance past a trigger
// threshold onto [0.5, 0.95], saturating at span.
func confidenceFromDistance(distance, span float64) float64 {
	if span <= 0 {
		return 0.5
	}
	frac := distance / span
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	return 0.5 + 0.45*frac
}
