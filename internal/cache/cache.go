// Package cache implements the fan-in dedup LRU, the shared blockhash
// cache, and the session blacklist. All three answer from an in-process
// map. When a Redis client is configured, the dedup LRU and the session
// blacklist also mirror each write to Redis; those keys are never read
// back, and a failed Redis write logs a warning (on every failure) and is
// otherwise ignored. The blockhash cache has no Redis mirror. This
// degraded-mode idiom mirrors the
// teacher's cache service: a missing dependency degrades the feature,
// it never takes the process down.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tokensentinel/internal/logging"
)

// DedupLRU is the fan-in's size-bounded, TTL-windowed mint dedup cache.
// Single-writer per the concurrency model (only the listener fan-in task
// mutates it); reads are safe from any goroutine.
type DedupLRU struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently seen
	redis    *redis.Client
	log      *logging.Logger
}

type dedupEntry struct {
	mint         string
	firstSeen    time.Time
	observations int
}

// NewDedupLRU creates a dedup cache bounded to capacity entries, with
// observations expiring after window. redisClient may be nil, in which
// case the cache is purely in-process.
func NewDedupLRU(capacity int, window time.Duration, redisClient *redis.Client) *DedupLRU {
	return &DedupLRU{
		capacity: capacity,
		window:   window,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		redis:    redisClient,
		log:      logging.WithComponent("cache.dedup"),
	}
}

// Observe records a sighting of mint. It returns (isNew, observationCount).
// isNew is false — and downstream work must not be re-triggered — when the
// mint was already seen within the window.
func (d *DedupLRU) Observe(ctx context.Context, mint string) (isNew bool, observations int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	if el, ok := d.entries[mint]; ok {
		entry := el.Value.(*dedupEntry)
		if now.Sub(entry.firstSeen) < d.window {
			entry.observations++
			d.order.MoveToFront(el)
			d.syncRedis(ctx, mint, entry)
			return false, entry.observations
		}
		// window expired; treat as a fresh sighting
		d.order.Remove(el)
		delete(d.entries, mint)
	}

	entry := &dedupEntry{mint: mint, firstSeen: now, observations: 1}
	el := d.order.PushFront(entry)
	d.entries[mint] = el
	d.syncRedis(ctx, mint, entry)

	d.evictIfNeeded()
	return true, 1
}

func (d *DedupLRU) evictIfNeeded() {
	for d.order.Len() > d.capacity {
		back := d.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*dedupEntry)
		delete(d.entries, entry.mint)
		d.order.Remove(back)
	}
}

// syncRedis best-effort mirrors the observation count to Redis when a
// client is configured. Nothing reads the key back, so the mirror does
// not restore dedup state after a restart. Each failure is logged and
// otherwise ignored — in-process state remains authoritative.
func (d *DedupLRU) syncRedis(ctx context.Context, mint string, entry *dedupEntry) {
	if d.redis == nil {
		return
	}
	key := "dedup:" + mint
	if err := d.redis.Set(ctx, key, entry.observations, d.window).Err(); err != nil {
		d.log.Warn("redis dedup sync failed, continuing in-memory", "mint", mint, "error", err)
	}
}

// Len returns the current number of tracked mints (test/diagnostic use).
func (d *DedupLRU) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// BlockhashCache is the RPC client's shared, single-writer cache for the
// most recent blockhash, TTL'd to one block interval.
type BlockhashCache struct {
	mu        sync.RWMutex
	hash      string
	slot      uint64
	fetchedAt time.Time
	ttl       time.Duration
}

// NewBlockhashCache creates a cache with the given TTL (one block interval).
func NewBlockhashCache(ttl time.Duration) *BlockhashCache {
	return &BlockhashCache{ttl: ttl}
}

// Get returns the cached (hash, slot) if still within TTL.
func (b *BlockhashCache) Get() (hash string, slot uint64, fresh bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.hash == "" || time.Since(b.fetchedAt) >= b.ttl {
		return "", 0, false
	}
	return b.hash, b.slot, true
}

// Set updates the cache only when the value differs, per the
// invalidate-on-successful-new-value-that-differs rule.
func (b *BlockhashCache) Set(hash string, slot uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hash == b.hash {
		return
	}
	b.hash = hash
	b.slot = slot
	b.fetchedAt = time.Now()
}

// SessionBlacklist tracks mints barred from re-entry after a FAILED
// position, for a fixed TTL. Single-writer (Position Manager on FAILED
// transitions), many-reader. Reads come from the in-process map; writes
// are also mirrored to Redis when a client is configured.
type SessionBlacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time // mint -> expiry
	ttl     time.Duration
	redis   *redis.Client
	log     *logging.Logger
}

// NewSessionBlacklist creates a blacklist with the given TTL (1h per spec).
func NewSessionBlacklist(ttl time.Duration, redisClient *redis.Client) *SessionBlacklist {
	return &SessionBlacklist{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		redis:   redisClient,
		log:     logging.WithComponent("cache.blacklist"),
	}
}

// Add bars mint from re-entry until the TTL elapses.
func (s *SessionBlacklist) Add(ctx context.Context, mint string) {
	s.mu.Lock()
	s.entries[mint] = time.Now().Add(s.ttl)
	s.mu.Unlock()

	if s.redis != nil {
		if err := s.redis.Set(ctx, "blacklist:"+mint, 1, s.ttl).Err(); err != nil {
			s.log.Warn("redis blacklist sync failed, continuing in-memory", "mint", mint, "error", err)
		}
	}
}

// IsBlacklisted reports whether mint is currently barred.
func (s *SessionBlacklist) IsBlacklisted(mint string) bool {
	s.mu.RLock()
	expiry, ok := s.entries[mint]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		s.mu.Lock()
		delete(s.entries, mint)
		s.mu.Unlock()
		return false
	}
	return true
}
