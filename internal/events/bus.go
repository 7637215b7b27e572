// Package events is the fire-and-forget pub/sub bus that lets the
// Control API's push stream and the notification layer observe engine
// activity without either package importing the other — the same role
// it plays in the teacher, generalized from per-user WebSocket broadcast
// callbacks to a single-tenant event stream.
package events

import (
	"sync"
	"time"
)

// Type identifies a kind of event on the bus.
type Type string

const (
	TypeTokenEventObserved Type = "TOKEN_EVENT_OBSERVED"
	TypeThreatReport       Type = "THREAT_REPORT"
	TypeTradeIntent        Type = "TRADE_INTENT"
	TypePositionOpened     Type = "POSITION_OPENED"
	TypePositionUpdated    Type = "POSITION_UPDATED"
	TypePositionClosed     Type = "POSITION_CLOSED"
	TypeAlert              Type = "ALERT"
	TypeProviderHealth     Type = "PROVIDER_HEALTH"
	TypeOverrideApplied    Type = "OVERRIDE_APPLIED"
	TypeEmergencyStop      Type = "EMERGENCY_STOP"
	TypeStrategyStats      Type = "STRATEGY_STATS"
)

// Event is one message on the bus. Data carries the type-specific
// payload (a domain.* value); subscribers type-assert based on Type.
type Event struct {
	Type      Type
	Timestamp time.Time
	Data      interface{}
}

// Subscriber handles one event.
type Subscriber func(Event)

// Bus is a minimal in-process pub/sub bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Subscriber
	allSubs     []Subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[Type][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(t Type, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], sub)
}

// SubscribeAll registers a subscriber for every event type, used by the
// Control API's push stream which fans every event out to websocket
// clients regardless of kind.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish notifies subscribers of ev. Each subscriber runs in its own
// goroutine so a slow or panicking observer cannot stall the publisher;
// per the design, observer failures are never propagated.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[ev.Type] {
		go safeInvoke(sub, ev)
	}
	for _, sub := range b.allSubs {
		go safeInvoke(sub, ev)
	}
}

func safeInvoke(sub Subscriber, ev Event) {
	defer func() {
		_ = recover() // observer panics are swallowed, not propagated
	}()
	sub(ev)
}
