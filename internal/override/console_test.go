package override

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokensentinel/internal/domain"
)

func runConsole(t *testing.T, c *Console) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return cancel
}

func TestEmergencyStopSetsState(t *testing.T) {
	c := New(func(ctx context.Context, cmd domain.OverrideCommand) error { return nil })
	runConsole(t, c)

	if c.IsEmergencyStopped() {
		t.Fatal("should not be emergency-stopped initially")
	}

	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverrideEmergencyStop})

	deadline := time.After(time.Second)
	for !c.IsEmergencyStopped() {
		select {
		case <-deadline:
			t.Fatal("emergency stop was never applied")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestResetClearsEmergencyAndPause(t *testing.T) {
	c := New(func(ctx context.Context, cmd domain.OverrideCommand) error { return nil })
	runConsole(t, c)

	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverrideEmergencyStop})
	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverridePause})
	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverrideReset})

	deadline := time.After(time.Second)
	for c.IsEmergencyStopped() || c.IsPaused() {
		select {
		case <-deadline:
			t.Fatal("reset never cleared state")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCommandsAppliedInSubmissionOrder(t *testing.T) {
	var order []domain.OverrideKind
	done := make(chan struct{})

	c := New(func(ctx context.Context, cmd domain.OverrideCommand) error {
		order = append(order, cmd.Kind)
		if len(order) == 3 {
			close(done)
		}
		return nil
	})
	runConsole(t, c)

	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverridePause})
	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverrideResume})
	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverridePause})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never saw all 3 commands")
	}

	want := []domain.OverrideKind{domain.OverridePause, domain.OverrideResume, domain.OverridePause}
	for i, k := range want {
		if order[i] != k {
			t.Errorf("command %d: got %v, want %v", i, order[i], k)
		}
	}
}

func TestOnEmergencyStopObserverFires(t *testing.T) {
	c := New(func(ctx context.Context, cmd domain.OverrideCommand) error { return nil })
	runConsole(t, c)

	fired := make(chan struct{}, 1)
	c.OnEmergencyStop(func() { fired <- struct{}{} })

	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverrideEmergencyStop})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnEmergencyStop observer never fired")
	}
}

func TestOnTradeExecutedFiresOnManualBuy(t *testing.T) {
	c := New(func(ctx context.Context, cmd domain.OverrideCommand) error { return nil })
	runConsole(t, c)

	fired := make(chan domain.TradeIntent, 1)
	c.OnTradeExecuted(func(intent domain.TradeIntent) { fired <- intent })

	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverrideManualBuy, MintAddress: "mintA", SizeBase: 1.0})

	select {
	case intent := <-fired:
		if intent.MintAddress != "mintA" || !intent.Manual {
			t.Errorf("unexpected trade intent: %+v", intent)
		}
	case <-time.After(time.Second):
		t.Fatal("OnTradeExecuted observer never fired")
	}
}

func TestHandlerFailureSkipsObserverFanout(t *testing.T) {
	c := New(func(ctx context.Context, cmd domain.OverrideCommand) error {
		return errors.New("handler rejected command")
	})
	runConsole(t, c)

	fired := make(chan struct{}, 1)
	c.OnStateChange(func(kind domain.OverrideKind) { fired <- struct{}{} })

	c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverrideManualBuy})

	select {
	case <-fired:
		t.Error("observers should not fire when the handler returns an error")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	c := New(func(ctx context.Context, cmd domain.OverrideCommand) error { return nil })
	// deliberately do not run the console, so the queue fills and blocks

	for i := 0; i < commandQueueSize; i++ {
		if err := c.Submit(context.Background(), domain.OverrideCommand{Kind: domain.OverridePause}); err != nil {
			t.Fatalf("unexpected error filling queue at %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Submit(ctx, domain.OverrideCommand{Kind: domain.OverridePause})
	if err == nil {
		t.Error("expected Submit to respect context cancellation once the queue is full")
	}
}
