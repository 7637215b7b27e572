package rpc

import (
	"context"
	"sync"
	"time"

	"tokensentinel/internal/logging"
)

// StreamHandler receives raw subscription payloads; the listener fan-in
// adapters decode them into domain.TokenEvent values.
type StreamHandler func(payload []byte)

// Subscription is a single long-lived stream against one provider,
// transparently reconnecting and failing over to the next healthy
// endpoint on a stream gap, the same role the teacher's kline
// subscription manager and user-data stream played for market/account
// websockets.
type Subscription struct {
	mu       sync.Mutex
	client   *Client
	channel  string
	handler  StreamHandler
	cancel   context.CancelFunc
	attempts int
}

// Subscribe opens a subscription on channel, dispatching each message to
// handler. The returned Subscription runs its reconnect loop in a
// background goroutine until the context is canceled or Close is called.
func (c *Client) Subscribe(ctx context.Context, channel string, handler StreamHandler) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{client: c, channel: channel, handler: handler, cancel: cancel}
	go s.run(ctx)
	return s
}

func (s *Subscription) run(ctx context.Context) {
	log := logging.ProviderContext(s.channel, "stream")
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		candidates := s.client.rankedEndpoints()
		connected := false
		for _, ep := range candidates {
			if allow, _ := ep.breaker.Allow(); !allow {
				continue
			}
			connected = true
			log.Info("subscription connected", "endpoint", ep.URL, "channel", s.channel)

			err := streamUntilGap(ctx, ep.URL, s.channel, s.handler)
			ep.recordResult(0, err)
			if err != nil {
				log.Warn("stream gap, failing over", "endpoint", ep.URL, "error", err)
			}
			break
		}

		if ctx.Err() != nil {
			return
		}
		if !connected {
			log.Warn("no healthy endpoint for subscription, backing off", "backoff", backoff)
		}

		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// streamUntilGap is the transport-level seam a live WebSocket subscriber
// replaces; it returns when the stream disconnects or errors.
func streamUntilGap(ctx context.Context, endpointURL, channel string, handler StreamHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close terminates the subscription's reconnect loop.
func (s *Subscription) Close() {
	s.cancel()
}

// Attempts returns the number of reconnect attempts made so far (test/
// diagnostic use).
func (s *Subscription) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
