// Package rpc implements the multi-provider failover client: request
// dispatch across a weighted, priority-budgeted pool of chain RPC
// endpoints, continuous health scoring, and subscription reconnect.
// The shape is the teacher's Binance client plus rate limiter plus
// kline subscription manager, fused into one chain-agnostic façade.
package rpc

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"tokensentinel/internal/circuit"
	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
)

// Caller is the transport-level operation a provider executes. Callers
// pass a closure that performs the actual HTTP/WS call against a given
// endpoint URL.
type Caller func(ctx context.Context, endpointURL string) (interface{}, error)

// Endpoint tracks one configured RPC provider and its live health state.
type Endpoint struct {
	mu sync.Mutex

	URL      string
	MaxWeight int

	latencyEMAms    float64
	successEMA      float64 // 1.0 = success, 0.0 = failure, smoothed
	consecutiveFail int
	lastSuccessAt   time.Time
	lastScoredAt    time.Time
	currentWeight   int
	weightResetAt   time.Time

	breaker *circuit.Breaker
	log     *logging.Logger
}

const (
	latencyAlpha = 0.2
	successAlpha = 0.05
)

func newEndpoint(url string, maxWeight int) *Endpoint {
	ep := &Endpoint{
		URL:           url,
		MaxWeight:     maxWeight,
		currentWeight: maxWeight,
		weightResetAt: time.Now().Add(time.Second),
		successEMA:    1.0,
		breaker:       circuit.New(circuit.Config{MaxConsecutiveFailures: 3, Cooldown: 15 * time.Second, MaxCooldown: 2 * time.Minute}),
		log:           logging.ProviderContext(url, ""),
	}
	return ep
}

// recordResult folds a call outcome into the endpoint's rolling health
// metrics and trips/resets its breaker.
func (e *Endpoint) recordResult(latency time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	latencyMs := float64(latency.Milliseconds())
	if e.lastScoredAt.IsZero() {
		e.latencyEMAms = latencyMs
	} else {
		e.latencyEMAms = latencyAlpha*latencyMs + (1-latencyAlpha)*e.latencyEMAms
	}
	e.lastScoredAt = time.Now()

	if err == nil {
		e.successEMA = successAlpha*1.0 + (1-successAlpha)*e.successEMA
		e.consecutiveFail = 0
		e.lastSuccessAt = time.Now()
		e.breaker.RecordSuccess()
	} else {
		e.successEMA = successAlpha*0.0 + (1-successAlpha)*e.successEMA
		e.consecutiveFail++
		e.breaker.RecordFailure(err.Error())
	}
}

// score computes the weighted health score in [0,1]; higher is healthier.
func (e *Endpoint) score() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked()
}

func (e *Endpoint) scoreLocked() float64 {
	normalizedLatency := math.Min(e.latencyEMAms/2000.0, 1.0)
	recency := 1.0
	if !e.lastSuccessAt.IsZero() {
		age := time.Since(e.lastSuccessAt)
		recency = math.Max(0, 1.0-age.Seconds()/120.0)
	} else {
		recency = 0
	}
	return 0.4*(1-normalizedLatency) + 0.4*e.successEMA + 0.2*recency
}

func (e *Endpoint) status() domain.ProviderStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Endpoint) statusLocked() domain.ProviderStatus {
	s := e.scoreLocked()
	switch {
	case e.consecutiveFail >= 3 || s < 0.3:
		return domain.ProviderUnhealthy
	case s < 0.7:
		return domain.ProviderDegraded
	default:
		return domain.ProviderHealthy
	}
}

// Health snapshots the endpoint for status reporting.
func (e *Endpoint) Health() domain.ProviderHealth {
	e.mu.Lock()
	defer e.mu.Unlock()

	budgets := make([]domain.PriorityBudget, 0, 4)
	for _, p := range []domain.RequestPriority{domain.PriorityCritical, domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		threshold := p.ThresholdFraction()
		remaining := e.currentWeight - int(float64(e.MaxWeight)*(1-threshold))
		budgets = append(budgets, domain.PriorityBudget{
			Priority:     p,
			ThresholdPct: threshold,
			Remaining:    remaining,
			CanAcquire:   remaining > 0,
		})
	}

	return domain.ProviderHealth{
		EndpointURL:         e.URL,
		Status:              e.statusLocked(),
		LatencyEMAms:        e.latencyEMAms,
		SuccessRate:         e.successEMA,
		ConsecutiveFailures: e.consecutiveFail,
		LastSuccessAt:       e.lastSuccessAt,
		Score:               e.scoreLocked(),
		CurrentWeight:       e.currentWeight,
		MaxWeight:           e.MaxWeight,
		WeightResetAt:       e.weightResetAt,
		PriorityBudgets:     budgets,
	}
}

// tryAcquire checks and decrements the endpoint's weight budget for a
// request of the given priority and cost, refilling the bucket once per
// second. It returns false when the priority's threshold fraction of the
// budget has already been consumed this window.
func (e *Endpoint) tryAcquire(priority domain.RequestPriority, cost int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if now.After(e.weightResetAt) {
		e.currentWeight = e.MaxWeight
		e.weightResetAt = now.Add(time.Second)
	}

	floor := int(float64(e.MaxWeight) * (1 - priority.ThresholdFraction()))
	if e.currentWeight-cost < floor {
		return false
	}
	e.currentWeight -= cost
	return true
}

// Client is the multi-provider failover facade.
type Client struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	log       *logging.Logger

	blockhashMu    sync.Mutex
	blockhashTTL   time.Duration
}

// Config describes one configured endpoint.
type EndpointConfig struct {
	URL       string
	MaxWeight int
}

// New builds a client over the given endpoints. Calls rank them by live
// health status, then score; configuration order only breaks ties.
func New(endpoints []EndpointConfig, blockhashTTL time.Duration) *Client {
	c := &Client{
		log:          logging.WithComponent("rpc"),
		blockhashTTL: blockhashTTL,
	}
	for _, ec := range endpoints {
		weight := ec.MaxWeight
		if weight <= 0 {
			weight = 100
		}
		c.endpoints = append(c.endpoints, newEndpoint(ec.URL, weight))
	}
	return c
}

// rankedEndpoints returns healthy-first, highest-score-first ordering.
func (c *Client) rankedEndpoints() []*Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ranked := make([]*Endpoint, len(c.endpoints))
	copy(ranked, c.endpoints)
	statusRank := func(ep *Endpoint) int {
		switch ep.status() {
		case domain.ProviderHealthy:
			return 0
		case domain.ProviderDegraded:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ri, rj := statusRank(ranked[i]), statusRank(ranked[j]); ri != rj {
			return ri < rj
		}
		return ranked[i].score() > ranked[j].score()
	})
	return ranked
}

// Call dispatches fn against the healthiest available endpoint under the
// given priority, failing over to the next candidate on
// TransientTransport-classified errors and stopping on the first
// DefinitiveTransport-classified error.
func (c *Client) Call(ctx context.Context, priority domain.RequestPriority, cost int, fn Caller) (interface{}, error) {
	candidates := c.rankedEndpoints()
	if len(candidates) == 0 {
		return nil, domain.ErrNoHealthyEndpoint
	}

	var lastErr error
	attempted := 0
	for _, ep := range candidates {
		allow, reason := ep.breaker.Allow()
		if !allow {
			c.log.Debug("skipping endpoint, breaker open", "endpoint", ep.URL, "reason", reason)
			continue
		}
		if !ep.tryAcquire(priority, cost) {
			c.log.Debug("skipping endpoint, priority budget exhausted", "endpoint", ep.URL, "priority", priority.String())
			continue
		}

		attempted++
		start := time.Now()
		result, err := fn(ctx, ep.URL)
		ep.recordResult(time.Since(start), err)

		if err == nil {
			return result, nil
		}

		lastErr = err
		if kind, ok := domain.KindOf(err); ok && kind == domain.KindDefinitiveTransport {
			return nil, err
		}
		c.log.Warn("endpoint call failed, trying next", "endpoint", ep.URL, "error", err)
	}

	if attempted == 0 {
		return nil, domain.ErrNoHealthyEndpoint
	}
	return nil, domain.Classify(domain.KindTransportExhausted, "rpc.Call", fmt.Errorf("all %d attempted endpoints failed: %w", attempted, lastErr))
}

// StartHealthLoop actively probes every configured endpoint with fn on a
// fixed interval, independent of whatever traffic Call is routing. This
// is what keeps an idle or rarely-used endpoint's health score current
// instead of going stale between real requests. Blocks until ctx is
// canceled; callers run it in its own goroutine.
func (c *Client) StartHealthLoop(ctx context.Context, interval time.Duration, fn Caller) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAll(ctx, fn)
		}
	}
}

func (c *Client) probeAll(ctx context.Context, fn Caller) {
	c.mu.RLock()
	endpoints := make([]*Endpoint, len(c.endpoints))
	copy(endpoints, c.endpoints)
	c.mu.RUnlock()

	for _, ep := range endpoints {
		start := time.Now()
		_, err := fn(ctx, ep.URL)
		ep.recordResult(time.Since(start), err)
		if err != nil {
			c.log.Debug("health probe failed", "endpoint", ep.URL, "error", err)
		}
	}
}

// Health returns a snapshot of every configured endpoint.
func (c *Client) Health() []domain.ProviderHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ProviderHealth, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		out = append(out, ep.Health())
	}
	return out
}
