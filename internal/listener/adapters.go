package listener

import (
	"context"
	"time"

	"tokensentinel/internal/domain"
	"tokensentinel/internal/rpc"
)

// SubscriptionAdapter wraps an rpc.Subscription, decoding raw stream
// payloads into TokenEvent values. Used for the two push-based sources:
// transaction-log and block subscriptions.
type SubscriptionAdapter struct {
	name    string
	source  domain.EventSource
	client  *rpc.Client
	channel string
	decode  func(payload []byte) (domain.TokenEvent, bool)
}

// NewSubscriptionAdapter builds a push-based adapter over an RPC stream.
func NewSubscriptionAdapter(name string, source domain.EventSource, client *rpc.Client, channel string, decode func([]byte) (domain.TokenEvent, bool)) *SubscriptionAdapter {
	return &SubscriptionAdapter{name: name, source: source, client: client, channel: channel, decode: decode}
}

func (s *SubscriptionAdapter) Name() string              { return s.name }
func (s *SubscriptionAdapter) Source() domain.EventSource { return s.source }

func (s *SubscriptionAdapter) Run(ctx context.Context, out chan<- domain.TokenEvent) {
	sub := s.client.Subscribe(ctx, s.channel, func(payload []byte) {
		ev, ok := s.decode(payload)
		if !ok {
			return
		}
		ev.Source = s.source
		ev.DiscoveredAt = time.Now()
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})
	defer sub.Close()
	<-ctx.Done()
}

// PollAdapter wraps a periodic HTTP listing poll (the sidecar index feed
// and external listing poll sources), the same ticker-driven shape as
// the teacher's scan loop.
type PollAdapter struct {
	name     string
	source   domain.EventSource
	interval time.Duration
	poll     func(ctx context.Context) ([]domain.TokenEvent, error)
}

// NewPollAdapter builds a pull-based adapter that calls poll on a fixed
// interval.
func NewPollAdapter(name string, source domain.EventSource, interval time.Duration, poll func(ctx context.Context) ([]domain.TokenEvent, error)) *PollAdapter {
	return &PollAdapter{name: name, source: source, interval: interval, poll: poll}
}

func (p *PollAdapter) Name() string               { return p.name }
func (p *PollAdapter) Source() domain.EventSource { return p.source }

func (p *PollAdapter) Run(ctx context.Context, out chan<- domain.TokenEvent) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := p.poll(ctx)
			if err != nil {
				return // triggers reconnect-with-backoff in the fan-in
			}
			for _, ev := range events {
				ev.Source = p.source
				if ev.DiscoveredAt.IsZero() {
					ev.DiscoveredAt = time.Now()
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
