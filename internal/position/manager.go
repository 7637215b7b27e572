// Package position owns the position lifecycle state machine, the
// ordered exit-trigger evaluation, and the shared capital pool. The
// state machine and trailing-stop logic are grounded on the teacher's
// orders.PositionTracker and risk.TrailingStopManager; exit retry reuses
// internal/circuit for the same geometric backoff shape the teacher
// applied to its own breaker.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokensentinel/internal/cache"
	"tokensentinel/internal/circuit"
	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
)

// Config controls exit-ladder thresholds shared across all positions.
type Config struct {
	StopLossPct      float64
	TakeProfitPct    float64
	TrailingActivatePct float64
	TrailingGiveback float64
	MaxHoldDuration  time.Duration
	MaxExitRetries   int
	SessionBlacklistTTL time.Duration
	OpenConfirmDeadline time.Duration
}

// DefaultConfig mirrors the teacher's conservative defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPct:         0.15,
		TakeProfitPct:       0.5,
		TrailingActivatePct: 0.2,
		TrailingGiveback:    0.1,
		MaxHoldDuration:     4 * time.Hour,
		MaxExitRetries:      3,
		SessionBlacklistTTL: time.Hour,
		OpenConfirmDeadline: 8 * time.Second,
	}
}

// Confirmer verifies a submitted entry actually landed on-chain before a
// position leaves OPENING for OPEN. AwaitFill is the primary wait for a
// push-based fill confirmation; ProbeFillStatus is the direct RPC
// fallback Open uses once AwaitFill's deadline is exceeded.
type Confirmer interface {
	AwaitFill(ctx context.Context, mint string) (bool, error)
	ProbeFillStatus(ctx context.Context, mint string) (bool, error)
}

// Manager owns the full set of open/closing positions and the shared
// capital pool, serializing all mutation per-mint.
type Manager struct {
	cfg Config

	capitalMu     sync.Mutex
	capitalBase   float64
	committedBase float64

	mu        sync.Mutex
	positions map[string]*domain.Position
	retryBreakers map[string]*circuit.Breaker

	blacklist *cache.SessionBlacklist
	exec      Executor
	confirm   Confirmer

	log *logging.Logger
}

// Executor is the narrow surface position needs from the execution
// bundler — submitting an exit and reporting its fill.
type Executor interface {
	SubmitExit(ctx context.Context, pos *domain.Position, slippage float64) (fillPrice float64, err error)
}

// NewManager creates a position manager with the given starting capital.
// confirm may be nil, in which case Open skips the OPENING confirmation
// wait entirely and transitions straight to OPEN, matching the
// degraded-mode behavior the rest of this package uses when an optional
// collaborator is absent.
func NewManager(cfg Config, capitalBase float64, blacklist *cache.SessionBlacklist, exec Executor, confirm Confirmer) *Manager {
	return &Manager{
		cfg:           cfg,
		capitalBase:   capitalBase,
		positions:     make(map[string]*domain.Position),
		retryBreakers: make(map[string]*circuit.Breaker),
		blacklist:     blacklist,
		exec:          exec,
		confirm:       confirm,
		log:           logging.WithComponent("position"),
	}
}

// ReserveCapital attempts to commit sizeBase from the shared pool for a
// new entry, guarded by the single capital mutex per the concurrency
// model's single-writer rule. When sizeBase exceeds what's left in the
// pool, the reservation is scaled down to whatever remains rather than
// rejected outright, matching the capital-accounting behavior the
// combinator applies against its own total_capital view. Callers are
// responsible for re-checking the scaled-down amount against their own
// minimum-trade threshold and releasing it if the caller can't use a
// partial fill.
func (m *Manager) ReserveCapital(sizeBase float64) float64 {
	m.capitalMu.Lock()
	defer m.capitalMu.Unlock()
	available := m.capitalBase - m.committedBase
	if available <= 0 {
		return 0
	}
	reserved := sizeBase
	if reserved > available {
		reserved = available
	}
	m.committedBase += reserved
	return reserved
}

// CommittedBaseByStrategy sums CapitalCommittedBase across open
// positions grouped by strategy tag, the view the aggregator's
// per-strategy capital ceiling is checked against.
func (m *Manager) CommittedBaseByStrategy() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.positions))
	for _, p := range m.positions {
		out[p.StrategyTag] += p.CapitalCommittedBase
	}
	return out
}

// ReleaseCapital returns sizeBase to the shared pool after a position closes.
func (m *Manager) ReleaseCapital(sizeBase float64) {
	m.capitalMu.Lock()
	defer m.capitalMu.Unlock()
	m.committedBase -= sizeBase
	if m.committedBase < 0 {
		m.committedBase = 0
	}
}

// CommittedBase reports current committed capital, for sizing checks.
func (m *Manager) CommittedBase() float64 {
	m.capitalMu.Lock()
	defer m.capitalMu.Unlock()
	return m.committedBase
}

// Open transitions a new position into OPENING and awaits fill
// confirmation before promoting it to OPEN, grounded on the teacher's
// OnEntryFilled lifecycle hook. If confirm is configured, Open blocks
// for up to cfg.OpenConfirmDeadline on confirm.AwaitFill; once that
// deadline is exceeded it falls back to a single direct confirm.ProbeFillStatus
// call before giving up. A position whose entry can't be confirmed
// either way is never registered as OPEN — Open returns an error so the
// caller releases the reserved capital instead of tracking a phantom fill.
func (m *Manager) Open(ctx context.Context, mint, strategyTag string, entryPrice, quantity, sizeBase float64) (*domain.Position, error) {
	if m.blacklist.IsBlacklisted(mint) {
		return nil, domain.ErrMintBlacklisted
	}

	m.mu.Lock()
	if _, exists := m.positions[mint]; exists {
		m.mu.Unlock()
		return nil, domain.ErrPositionExists
	}

	pos := &domain.Position{
		MintAddress:          mint,
		StrategyTag:          strategyTag,
		EntryPrice:           entryPrice,
		EntryTime:            time.Now(),
		Quantity:             quantity,
		CapitalCommittedBase: sizeBase,
		StopLossPrice:        entryPrice * (1 - m.cfg.StopLossPct),
		TakeProfitPrice:      entryPrice * (1 + m.cfg.TakeProfitPct),
		MaxHoldDeadline:      time.Now().Add(m.cfg.MaxHoldDuration),
		TrailingHigh:         entryPrice,
		State:                domain.PositionOpening,
	}
	m.positions[mint] = pos
	m.retryBreakers[mint] = circuit.New(circuit.Config{
		MaxConsecutiveFailures: 1,
		Cooldown:               2 * time.Second,
		MaxCooldown:            30 * time.Second,
	})
	m.mu.Unlock()

	if !m.confirmEntry(ctx, mint) {
		m.mu.Lock()
		delete(m.positions, mint)
		delete(m.retryBreakers, mint)
		m.mu.Unlock()
		return nil, domain.Classify(domain.KindTransientTransport, "position.Open", fmt.Errorf("entry fill unconfirmed for %s", mint))
	}

	m.mu.Lock()
	pos.State = domain.PositionOpen
	m.mu.Unlock()
	return pos, nil
}

// confirmEntry runs the OPENING phase's confirmation wait, falling back
// to a direct probe once the wait's deadline is exceeded. Returns true
// immediately when no Confirmer is configured.
func (m *Manager) confirmEntry(ctx context.Context, mint string) bool {
	if m.confirm == nil {
		return true
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.OpenConfirmDeadline)
	ok, err := m.confirm.AwaitFill(waitCtx, mint)
	cancel()
	if err == nil && ok {
		return true
	}
	if waitCtx.Err() == nil {
		// AwaitFill failed outright rather than timing out; the probe
		// fallback exists for the deadline-exceeded case, not this one.
		return false
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, m.cfg.OpenConfirmDeadline)
	defer probeCancel()
	ok, err = m.confirm.ProbeFillStatus(probeCtx, mint)
	return err == nil && ok
}

// Get returns the open position for mint, if any.
func (m *Manager) Get(mint string) (*domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[mint]
	return pos, ok
}

// EvaluateExit checks the ordered exit ladder against the current price
// and any externally-raised signals, in priority order: emergency exit
// first, then the fixed stop-loss, the trailing stop, the take-profit
// target, the max-hold deadline, and finally a strategy-originated exit
// signal. The first trigger that fires wins; later ones are never
// evaluated once an earlier one fires.
func (m *Manager) EvaluateExit(mint string, currentPrice float64, emergencyStop bool, strategyExit bool, strategyReason string) (domain.ExitTrigger, bool) {
	m.mu.Lock()
	pos, ok := m.positions[mint]
	m.mu.Unlock()
	if !ok || pos.State != domain.PositionOpen {
		return "", false
	}

	if emergencyStop {
		return domain.ExitEmergency, true
	}
	if currentPrice <= pos.StopLossPrice {
		return domain.ExitStopLoss, true
	}
	if trigger, fired := m.evaluateTrailingStop(pos, currentPrice); fired {
		return trigger, true
	}
	if currentPrice >= pos.TakeProfitPrice {
		return domain.ExitTakeProfit, true
	}
	if time.Now().After(pos.MaxHoldDeadline) {
		return domain.ExitMaxHold, true
	}
	if strategyExit {
		return domain.ExitStrategyExit, true
	}
	return "", false
}

// evaluateTrailingStop updates the high-water mark and reports whether
// the trailing giveback has been breached, grounded on the teacher's
// TrailingStopManager (activation threshold, then only-favorable moves).
func (m *Manager) evaluateTrailingStop(pos *domain.Position, currentPrice float64) (domain.ExitTrigger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if currentPrice > pos.TrailingHigh {
		pos.TrailingHigh = currentPrice
	}

	gainFromEntry := (pos.TrailingHigh - pos.EntryPrice) / pos.EntryPrice
	if gainFromEntry < m.cfg.TrailingActivatePct {
		return "", false
	}

	giveback := (pos.TrailingHigh - currentPrice) / pos.TrailingHigh
	if giveback >= m.cfg.TrailingGiveback {
		return domain.ExitTrailingStop, true
	}
	return "", false
}

// Close runs the exit-retry loop for a triggered position: submit,
// escalate slippage on failure (doubling per retry, capped at 50%), and
// retry through the per-mint circuit breaker's backoff. A position is
// never abandoned — after MaxExitRetries is exhausted the retry
// continues indefinitely at the breaker's capped cooldown while raising
// a CRITICAL alert, since leaving a FAILED exit unresolved would leave
// capital silently stuck.
func (m *Manager) Close(ctx context.Context, mint string, trigger domain.ExitTrigger, onCriticalAlert func(reason string)) error {
	m.mu.Lock()
	pos, ok := m.positions[mint]
	breaker := m.retryBreakers[mint]
	m.mu.Unlock()
	if !ok {
		return domain.ErrPositionNotFound
	}

	m.mu.Lock()
	pos.State = domain.PositionClosing
	pos.ExitReason = trigger
	m.mu.Unlock()

	slippage := 0.01
	for {
		allow, _ := breaker.Allow()
		if !allow {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		fillPrice, err := m.exec.SubmitExit(ctx, pos, slippage)
		if err == nil {
			m.finalizeClose(pos, fillPrice)
			breaker.RecordSuccess()
			return nil
		}

		breaker.RecordFailure(err.Error())
		m.mu.Lock()
		pos.ExitRetries++
		retries := pos.ExitRetries
		m.mu.Unlock()

		slippage *= 2
		if slippage > 0.5 {
			slippage = 0.5
		}

		if retries == m.cfg.MaxExitRetries && onCriticalAlert != nil {
			onCriticalAlert("exit retries exhausted for " + mint + ", continuing indefinitely")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (m *Manager) finalizeClose(pos *domain.Position, fillPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos.ClosedAt = time.Now()
	pos.RealizedPnL = (fillPrice - pos.EntryPrice) * pos.Quantity
	pos.RealizedPnLPercent = (fillPrice - pos.EntryPrice) / pos.EntryPrice
	pos.State = domain.PositionClosed

	// A position that needed repeated exit retries before finally
	// filling is treated as session-risky: bar re-entry for the
	// blacklist TTL even though it ultimately closed successfully.
	if pos.ExitRetries > 0 {
		pos.State = domain.PositionFailed
		m.blacklist.Add(context.Background(), pos.MintAddress)
	}

	delete(m.positions, pos.MintAddress)
	delete(m.retryBreakers, pos.MintAddress)
}

// OpenPositions returns a snapshot of every currently tracked position.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}
