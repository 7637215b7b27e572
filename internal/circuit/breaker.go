// Package circuit implements a generic trip/cooldown/half-open circuit
// breaker, reused both for RPC provider health demotion (internal/rpc)
// and for position exit-retry backoff (internal/position).
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker's current mode.
type State string

const (
	StateClosed   State = "closed"    // normal operation
	StateOpen     State = "open"      // tripped, rejecting until cooldown elapses
	StateHalfOpen State = "half_open" // cooldown elapsed, probing for recovery
)

// Config controls trip conditions and cooldown behavior.
type Config struct {
	MaxConsecutiveFailures int           // trips after this many failures in a row
	Cooldown               time.Duration // time before a tripped breaker allows a probe
	MaxCooldown            time.Duration // cap for exponential cooldown growth; 0 disables growth
}

// DefaultConfig mirrors the teacher's conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 3,
		Cooldown:               30 * time.Second,
		MaxCooldown:            5 * time.Minute,
	}
}

// Breaker is a single circuit breaker instance, safe for concurrent use.
type Breaker struct {
	mu                sync.RWMutex
	config            Config
	state             State
	consecutiveFails  int
	tripCount         int
	lastTripAt        time.Time
	tripReason        string
	onTrip            func(reason string)
	onReset           func()
}

// New creates a breaker in the Closed state.
func New(config Config) *Breaker {
	return &Breaker{config: config, state: StateClosed}
}

// OnTrip registers a callback fired (in a goroutine) when the breaker trips.
func (b *Breaker) OnTrip(fn func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// OnReset registers a callback fired (in a goroutine) when the breaker closes.
func (b *Breaker) OnReset(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = fn
}

// Allow reports whether a call should be attempted right now. A breaker
// in Open state transitions itself to HalfOpen once cooldown has
// elapsed, allowing exactly the probe call through.
func (b *Breaker) Allow() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		cooldown := b.currentCooldown()
		elapsed := time.Since(b.lastTripAt)
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit open, cooldown remaining %v (reason: %s)", remaining.Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
	}
	return true, ""
}

// RecordSuccess reports a successful call. A success in HalfOpen closes
// the breaker; a success in Closed resets the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	wasHalfOpen := b.state == StateHalfOpen
	b.state = StateClosed
	b.consecutiveFails = 0
	onReset := b.onReset
	b.mu.Unlock()

	if wasHalfOpen && onReset != nil {
		go onReset()
	}
}

// RecordFailure reports a failed call, tripping the breaker if the
// consecutive-failure threshold is reached.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	b.consecutiveFails++
	shouldTrip := b.consecutiveFails >= b.config.MaxConsecutiveFailures
	var onTrip func(string)
	if shouldTrip {
		b.tripCount++
		b.state = StateOpen
		b.lastTripAt = time.Now()
		b.tripReason = reason
		onTrip = b.onTrip
	}
	b.mu.Unlock()

	if shouldTrip && onTrip != nil {
		go onTrip(reason)
	}
}

// currentCooldown grows the cooldown geometrically with trip count, up
// to MaxCooldown, matching the exit-retry backoff's escalation shape.
// Caller must hold b.mu.
func (b *Breaker) currentCooldown() time.Duration {
	if b.config.MaxCooldown <= 0 || b.tripCount <= 1 {
		return b.config.Cooldown
	}
	backoff := b.config.Cooldown * time.Duration(1<<uint(b.tripCount-1))
	if backoff > b.config.MaxCooldown {
		return b.config.MaxCooldown
	}
	return backoff
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ForceReset manually closes the breaker, clearing the failure streak.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveFails = 0
	b.tripReason = ""
	onReset := b.onReset
	b.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}

// Stats is a point-in-time snapshot for status reporting.
type Stats struct {
	State            State
	ConsecutiveFails int
	TripCount        int
	TripReason       string
	LastTripAt       time.Time
}

func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		TripCount:        b.tripCount,
		TripReason:       b.tripReason,
		LastTripAt:       b.lastTripAt,
	}
}
