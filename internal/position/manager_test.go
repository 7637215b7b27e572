package position

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tokensentinel/internal/cache"
	"tokensentinel/internal/domain"
)

type fakeExecutor struct {
	failuresBeforeSuccess int32
	fillPrice             float64
	attempts              int32
}

func (f *fakeExecutor) SubmitExit(ctx context.Context, pos *domain.Position, slippage float64) (float64, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= atomic.LoadInt32(&f.failuresBeforeSuccess) {
		return 0, errors.New("submit failed")
	}
	return f.fillPrice, nil
}

func testConfig() Config {
	return Config{
		StopLossPct:         0.1,
		TakeProfitPct:       0.2,
		TrailingActivatePct: 0.15,
		TrailingGiveback:    0.1,
		MaxHoldDuration:     time.Hour,
		MaxExitRetries:      3,
		SessionBlacklistTTL: time.Hour,
	}
}

func TestReserveAndReleaseCapital(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)

	if reserved := m.ReserveCapital(6.0); reserved != 6.0 {
		t.Fatalf("expected reservation within capital to succeed in full, got %v", reserved)
	}
	if reserved := m.ReserveCapital(5.0); reserved != 4.0 {
		t.Errorf("expected a reservation exceeding capital to scale down to the 4.0 remaining, got %v", reserved)
	}
	m.ReleaseCapital(10.0)
	if m.CommittedBase() != 0 {
		t.Errorf("expected committed capital to return to 0, got %v", m.CommittedBase())
	}
}

func TestReserveCapitalReturnsZeroWhenPoolExhausted(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.ReserveCapital(10.0)
	if reserved := m.ReserveCapital(1.0); reserved != 0 {
		t.Errorf("expected no reservation once the pool is fully committed, got %v", reserved)
	}
}

func TestCommittedBaseByStrategySumsPerTag(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 2.0)
	m.Open(context.Background(), "mintB", "momentum", 1.0, 5, 1.0)
	m.Open(context.Background(), "mintC", "snipe", 1.0, 5, 0.5)

	byStrategy := m.CommittedBaseByStrategy()
	if byStrategy["momentum"] != 3.0 {
		t.Errorf("expected momentum's committed base to be 3.0, got %v", byStrategy["momentum"])
	}
	if byStrategy["snipe"] != 0.5 {
		t.Errorf("expected snipe's committed base to be 0.5, got %v", byStrategy["snipe"])
	}
}

func TestReleaseCapitalNeverGoesNegative(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.ReleaseCapital(5.0)
	if m.CommittedBase() != 0 {
		t.Errorf("expected committed capital floored at 0, got %v", m.CommittedBase())
	}
}

func TestOpenRejectsBlacklistedMint(t *testing.T) {
	bl := cache.NewSessionBlacklist(time.Hour, nil)
	bl.Add(context.Background(), "mintA")
	m := NewManager(testConfig(), 10.0, bl, &fakeExecutor{}, nil)

	_, err := m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)
	if !errors.Is(err, domain.ErrMintBlacklisted) {
		t.Errorf("expected ErrMintBlacklisted, got %v", err)
	}
}

func TestOpenRejectsDuplicatePosition(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	if _, err := m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0); err != nil {
		t.Fatalf("unexpected error on first open: %v", err)
	}
	if _, err := m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0); !errors.Is(err, domain.ErrPositionExists) {
		t.Errorf("expected ErrPositionExists, got %v", err)
	}
}

func TestEvaluateExitEmergencyTakesPriority(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	trigger, fired := m.EvaluateExit("mintA", 2.0, true, false, "")
	if !fired || trigger != domain.ExitEmergency {
		t.Errorf("expected ExitEmergency to fire first, got trigger=%v fired=%v", trigger, fired)
	}
}

func TestEvaluateExitStopLoss(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	trigger, fired := m.EvaluateExit("mintA", 0.85, false, false, "")
	if !fired || trigger != domain.ExitStopLoss {
		t.Errorf("expected ExitStopLoss at 0.85 (stop at 0.9), got trigger=%v fired=%v", trigger, fired)
	}
}

func TestEvaluateExitTakeProfit(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	trigger, fired := m.EvaluateExit("mintA", 1.25, false, false, "")
	if !fired || trigger != domain.ExitTakeProfit {
		t.Errorf("expected ExitTakeProfit at 1.25 (target 1.2), got trigger=%v fired=%v", trigger, fired)
	}
}

func TestEvaluateExitTrailingStopAfterActivationAndGiveback(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	// climb to 1.17 (17% gain, past the 15% activation threshold but
	// short of the 20% take-profit target)
	trigger, fired := m.EvaluateExit("mintA", 1.17, false, false, "")
	if fired {
		t.Fatalf("should not fire yet at the high-water mark itself, got %v", trigger)
	}

	// pull back 10% from the high (1.17 * 0.9 = 1.053), meeting the giveback
	trigger, fired = m.EvaluateExit("mintA", 1.053, false, false, "")
	if !fired || trigger != domain.ExitTrailingStop {
		t.Errorf("expected ExitTrailingStop after a 10%% pullback from the high, got trigger=%v fired=%v", trigger, fired)
	}
}

func TestEvaluateExitNoTriggerReturnsFalse(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	_, fired := m.EvaluateExit("mintA", 1.02, false, false, "")
	if fired {
		t.Error("a small favorable move should not trigger any exit")
	}
}

func TestEvaluateExitUnknownMintReturnsFalse(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	_, fired := m.EvaluateExit("unknown", 1.0, false, false, "")
	if fired {
		t.Error("an unknown mint should never trigger an exit")
	}
}

func TestCloseSucceedsImmediatelyWithoutRetries(t *testing.T) {
	exec := &fakeExecutor{fillPrice: 1.5}
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), exec, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	err := m.Close(context.Background(), "mintA", domain.ExitTakeProfit, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	positions := m.OpenPositions()
	if len(positions) != 0 {
		t.Error("a closed position should no longer be tracked as open")
	}
}

func TestCloseWithoutRetriesDoesNotBlacklist(t *testing.T) {
	exec := &fakeExecutor{fillPrice: 1.5}
	bl := cache.NewSessionBlacklist(time.Hour, nil)
	m := NewManager(testConfig(), 10.0, bl, exec, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	m.Close(context.Background(), "mintA", domain.ExitStopLoss, nil)

	if bl.IsBlacklisted("mintA") {
		t.Error("a position closed without needing retries should not be blacklisted")
	}
}

func TestFinalizeCloseBlacklistsAfterRetries(t *testing.T) {
	exec := &fakeExecutor{failuresBeforeSuccess: 2, fillPrice: 0.8}
	bl := cache.NewSessionBlacklist(time.Hour, nil)
	cfg := testConfig()
	cfg.MaxExitRetries = 1
	m := NewManager(cfg, 10.0, bl, exec, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	err := m.Close(context.Background(), "mintA", domain.ExitStopLoss, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bl.IsBlacklisted("mintA") {
		t.Error("a position that needed retries before closing should be session-blacklisted")
	}
}

func TestCloseUnknownMintReturnsErrPositionNotFound(t *testing.T) {
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), &fakeExecutor{}, nil)
	err := m.Close(context.Background(), "unknown", domain.ExitStopLoss, nil)
	if !errors.Is(err, domain.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestCloseRespectsContextCancellation(t *testing.T) {
	exec := &fakeExecutor{failuresBeforeSuccess: 1000, fillPrice: 1.0}
	m := NewManager(testConfig(), 10.0, cache.NewSessionBlacklist(time.Hour, nil), exec, nil)
	m.Open(context.Background(), "mintA", "momentum", 1.0, 10, 1.0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Close(ctx, "mintA", domain.ExitStopLoss, nil)
	if err == nil {
		t.Error("expected the retry loop to return when the context is cancelled")
	}
}
