// Package listener fans in token-creation events from every configured
// source adapter into one bounded channel, deduplicating repeat
// sightings and tracking cross-source observation counts. The shape is
// the teacher's scanner: a worker pool feeding a shared result channel,
// generalized from periodic symbol polling to a mixed push/poll source
// set.
package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tokensentinel/internal/cache"
	"tokensentinel/internal/domain"
	"tokensentinel/internal/logging"
)

// Adapter is one event source (transaction-log subscription, block
// subscription, sidecar index feed, listing poll). Implementations own
// their own reconnect logic and push decoded events onto out until ctx
// is canceled.
type Adapter interface {
	Name() string
	Source() domain.EventSource
	Run(ctx context.Context, out chan<- domain.TokenEvent)
}

// FanIn merges every adapter's output into a single deduplicated,
// bounded channel.
type FanIn struct {
	adapters  []Adapter
	dedup     *cache.DedupLRU
	bufSize   int
	dropCount int64

	log *logging.Logger
}

const defaultBufferSize = 1024

// New creates a fan-in over the given adapters, sharing dedup.
func New(adapters []Adapter, dedup *cache.DedupLRU) *FanIn {
	return &FanIn{
		adapters: adapters,
		dedup:    dedup,
		bufSize:  defaultBufferSize,
		log:      logging.WithComponent("listener"),
	}
}

// Run starts every adapter and returns the merged, deduplicated output
// channel. The channel is closed when ctx is canceled and every adapter
// goroutine has exited.
func (f *FanIn) Run(ctx context.Context) <-chan domain.TokenEvent {
	raw := make(chan domain.TokenEvent, f.bufSize)
	out := make(chan domain.TokenEvent, f.bufSize)

	var wg sync.WaitGroup
	for _, adapter := range f.adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			f.runAdapter(ctx, a, raw)
		}(adapter)
	}

	go func() {
		wg.Wait()
		close(raw)
	}()

	go f.dedupLoop(ctx, raw, out)

	return out
}

// runAdapter runs one adapter with reconnect-on-StreamGap: if Run
// returns (a gap/disconnect), it is restarted with backoff until ctx is
// canceled.
func (f *FanIn) runAdapter(ctx context.Context, a Adapter, out chan<- domain.TokenEvent) {
	backoff := time.Second
	log := logging.ListenerContext(string(a.Source()))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		adapterDone := make(chan struct{})
		go func() {
			defer close(adapterDone)
			a.Run(ctx, out)
		}()

		select {
		case <-ctx.Done():
			return
		case <-adapterDone:
		}

		if ctx.Err() != nil {
			return
		}

		log.Warn("adapter stream gap, reconnecting", "adapter", a.Name(), "backoff", backoff)
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

// dedupLoop applies the shared dedup window and enforces bounded,
// drop-oldest backpressure on out.
func (f *FanIn) dedupLoop(ctx context.Context, raw <-chan domain.TokenEvent, out chan domain.TokenEvent) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}

			isNew, observations := f.dedup.Observe(ctx, ev.MintAddress)
			if !isNew {
				continue
			}
			ev.ObservationCount = observations

			select {
			case out <- ev:
			default:
				// channel full: drop the oldest queued event to make
				// room, per the bounded drop-oldest backpressure policy
				select {
				case <-out:
					atomic.AddInt64(&f.dropCount, 1)
				default:
				}
				select {
				case out <- ev:
				default:
					atomic.AddInt64(&f.dropCount, 1)
				}
			}
		}
	}
}

// DropCount returns the number of events dropped due to backpressure.
func (f *FanIn) DropCount() int64 {
	return atomic.LoadInt64(&f.dropCount)
}
