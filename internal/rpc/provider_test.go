package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokensentinel/internal/domain"
)

func TestNewAssignsDefaultWeightWhenUnset(t *testing.T) {
	c := New([]EndpointConfig{{URL: "http://a"}}, time.Second)
	health := c.Health()
	if len(health) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(health))
	}
	if health[0].MaxWeight != 100 {
		t.Errorf("expected default max weight 100, got %d", health[0].MaxWeight)
	}
}

func TestCallReturnsErrNoHealthyEndpointWhenEmpty(t *testing.T) {
	c := New(nil, time.Second)
	_, err := c.Call(context.Background(), domain.PriorityNormal, 1, func(ctx context.Context, url string) (interface{}, error) {
		return nil, nil
	})
	if !errors.Is(err, domain.ErrNoHealthyEndpoint) {
		t.Errorf("expected ErrNoHealthyEndpoint, got %v", err)
	}
}

func TestCallSucceedsOnFirstHealthyEndpoint(t *testing.T) {
	c := New([]EndpointConfig{{URL: "http://a", MaxWeight: 100}}, time.Second)

	result, err := c.Call(context.Background(), domain.PriorityNormal, 1, func(ctx context.Context, url string) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected result 'ok', got %v", result)
	}
}

func TestCallFailsOverOnTransientError(t *testing.T) {
	c := New([]EndpointConfig{
		{URL: "http://bad", MaxWeight: 100},
		{URL: "http://good", MaxWeight: 100},
	}, time.Second)

	calls := map[string]int{}
	result, err := c.Call(context.Background(), domain.PriorityNormal, 1, func(ctx context.Context, url string) (interface{}, error) {
		calls[url]++
		if url == "http://bad" {
			return nil, domain.Classify(domain.KindTransientTransport, "test", errors.New("timeout"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected 'ok', got %v", result)
	}
}

func TestCallStopsImmediatelyOnDefinitiveError(t *testing.T) {
	c := New([]EndpointConfig{
		{URL: "http://a", MaxWeight: 100},
		{URL: "http://b", MaxWeight: 100},
	}, time.Second)

	calls := 0
	_, err := c.Call(context.Background(), domain.PriorityNormal, 1, func(ctx context.Context, url string) (interface{}, error) {
		calls++
		return nil, domain.Classify(domain.KindDefinitiveTransport, "test", errors.New("invalid signature"))
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("a definitive error should stop failover immediately, got %d calls", calls)
	}
}

func TestCallReturnsTransportExhaustedWhenAllFail(t *testing.T) {
	c := New([]EndpointConfig{
		{URL: "http://a", MaxWeight: 100},
		{URL: "http://b", MaxWeight: 100},
	}, time.Second)

	_, err := c.Call(context.Background(), domain.PriorityNormal, 1, func(ctx context.Context, url string) (interface{}, error) {
		return nil, domain.Classify(domain.KindTransientTransport, "test", errors.New("timeout"))
	})
	if kind, ok := domain.KindOf(err); !ok || kind != domain.KindTransportExhausted {
		t.Errorf("expected KindTransportExhausted, got %v (ok=%v)", kind, ok)
	}
}

func TestEndpointScorePrefersLowerLatencyAndHigherSuccess(t *testing.T) {
	fast := newEndpoint("http://fast", 100)
	slow := newEndpoint("http://slow", 100)

	fast.recordResult(10*time.Millisecond, nil)
	slow.recordResult(1900*time.Millisecond, nil)

	if fast.score() <= slow.score() {
		t.Error("a low-latency endpoint should score higher than a high-latency one")
	}
}

func TestEndpointStatusUnhealthyAfterConsecutiveFailures(t *testing.T) {
	ep := newEndpoint("http://a", 100)
	for i := 0; i < 3; i++ {
		ep.recordResult(10*time.Millisecond, errors.New("fail"))
	}
	if ep.status() != domain.ProviderUnhealthy {
		t.Errorf("expected ProviderUnhealthy after 3 consecutive failures, got %v", ep.status())
	}
}

func TestEndpointTryAcquireRespectsPriorityThreshold(t *testing.T) {
	ep := newEndpoint("http://a", 100)

	// LOW priority can only use a small fraction of the budget; draining
	// most of the weight should block further LOW acquisitions while
	// CRITICAL can still proceed.
	ep.currentWeight = 10
	if ep.tryAcquire(domain.PriorityLow, 1) {
		t.Error("LOW priority should not acquire when weight is far below its threshold floor")
	}
	if !ep.tryAcquire(domain.PriorityCritical, 1) {
		t.Error("CRITICAL priority should be able to acquire from the reserved budget")
	}
}

func TestEndpointTryAcquireRefillsAfterWindow(t *testing.T) {
	ep := newEndpoint("http://a", 100)
	ep.currentWeight = 0
	ep.weightResetAt = time.Now().Add(-time.Millisecond)

	if !ep.tryAcquire(domain.PriorityNormal, 1) {
		t.Error("weight budget should refill once the reset window elapses")
	}
}
