// Package override implements the Override Console: a single bounded,
// totally-ordered command queue plus fire-and-forget observer callbacks,
// grounded on the teacher's API handlers for manual trade/circuit-
// breaker control and its event-broadcast wiring.
package override

import (
	"context"
	"sync"

	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
)

const commandQueueSize = 256

// Observer callbacks fire (each in its own goroutine) after a command is
// applied; failures in one observer must never block another.
type OnStateChange func(kind domain.OverrideKind)
type OnEmergencyStop func()
type OnTradeExecuted func(intent domain.TradeIntent)

// Handler applies one override command to engine state and returns an
// error if the command could not be applied (e.g. CLOSE_POSITION on an
// unknown mint).
type Handler func(ctx context.Context, cmd domain.OverrideCommand) error

// Console serializes override commands through one bounded channel so
// commands are applied in submission order even when multiple API
// requests race to submit them.
type Console struct {
	commands chan domain.OverrideCommand
	handler  Handler

	mu               sync.RWMutex
	onStateChange    []OnStateChange
	onEmergencyStop  []OnEmergencyStop
	onTradeExecuted  []OnTradeExecuted

	emergencyStopped bool
	paused           bool

	log *logging.Logger
}

// New creates a Console. handler is invoked once per command, in the
// order commands were submitted.
func New(handler Handler) *Console {
	return &Console{
		commands: make(chan domain.OverrideCommand, commandQueueSize),
		handler:  handler,
		log:      logging.WithComponent("override"),
	}
}

// Submit enqueues cmd, blocking only if the queue is momentarily full —
// per the spec's total-ordering requirement the queue is never dropped
// from, unlike the listener fan-in's drop-oldest policy.
func (c *Console) Submit(ctx context.Context, cmd domain.OverrideCommand) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the command queue until ctx is canceled, applying each
// command in order and firing observer callbacks.
func (c *Console) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			c.apply(ctx, cmd)
		}
	}
}

func (c *Console) apply(ctx context.Context, cmd domain.OverrideCommand) {
	log := logging.OverrideContext(string(cmd.Kind))

	switch cmd.Kind {
	case domain.OverrideEmergencyStop:
		c.mu.Lock()
		c.emergencyStopped = true
		c.mu.Unlock()
	case domain.OverridePause:
		c.mu.Lock()
		c.paused = true
		c.mu.Unlock()
	case domain.OverrideResume:
		c.mu.Lock()
		c.paused = false
		c.mu.Unlock()
	case domain.OverrideReset:
		c.mu.Lock()
		c.emergencyStopped = false
		c.paused = false
		c.mu.Unlock()
	}

	if err := c.handler(ctx, cmd); err != nil {
		log.Warn("override command handler failed", "error", err)
		return
	}

	c.fireStateChange(cmd.Kind)
	if cmd.Kind == domain.OverrideEmergencyStop {
		c.fireEmergencyStop()
	}
	if cmd.Kind == domain.OverrideManualBuy || cmd.Kind == domain.OverrideManualSell {
		c.fireTradeExecuted(domain.TradeIntent{
			MintAddress: cmd.MintAddress,
			SizeBase:    cmd.SizeBase,
			Slippage:    cmd.Slippage,
			Manual:      true,
		})
	}
}

// IsEmergencyStopped reports whether EMERGENCY_STOP is currently active.
func (c *Console) IsEmergencyStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.emergencyStopped
}

// IsPaused reports whether PAUSE is currently active.
func (c *Console) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// OnStateChange registers a callback fired after any override command applies.
func (c *Console) OnStateChange(fn OnStateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = append(c.onStateChange, fn)
}

// OnEmergencyStop registers a callback fired specifically on EMERGENCY_STOP.
func (c *Console) OnEmergencyStop(fn OnEmergencyStop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEmergencyStop = append(c.onEmergencyStop, fn)
}

// OnTradeExecuted registers a callback fired after a manual buy/sell applies.
func (c *Console) OnTradeExecuted(fn OnTradeExecuted) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTradeExecuted = append(c.onTradeExecuted, fn)
}

func (c *Console) fireStateChange(kind domain.OverrideKind) {
	c.mu.RLock()
	subs := append([]OnStateChange(nil), c.onStateChange...)
	c.mu.RUnlock()
	for _, fn := range subs {
		go safeCall(func() { fn(kind) })
	}
}

func (c *Console) fireEmergencyStop() {
	c.mu.RLock()
	subs := append([]OnEmergencyStop(nil), c.onEmergencyStop...)
	c.mu.RUnlock()
	for _, fn := range subs {
		go safeCall(fn)
	}
}

func (c *Console) fireTradeExecuted(intent domain.TradeIntent) {
	c.mu.RLock()
	subs := append([]OnTradeExecuted(nil), c.onTradeExecuted...)
	c.mu.RUnlock()
	for _, fn := range subs {
		go safeCall(func() { fn(intent) })
	}
}

func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
