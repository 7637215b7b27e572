package cache

import (
	"context"
	"testing"
	"time"
)

func TestDedupLRUFirstObservationIsNew(t *testing.T) {
	d := NewDedupLRU(10, time.Minute, nil)

	isNew, count := d.Observe(context.Background(), "mintA")
	if !isNew || count != 1 {
		t.Fatalf("first observation should be new with count 1, got isNew=%v count=%d", isNew, count)
	}
}

func TestDedupLRURepeatWithinWindowIsNotNew(t *testing.T) {
	d := NewDedupLRU(10, time.Minute, nil)
	ctx := context.Background()

	d.Observe(ctx, "mintA")
	isNew, count := d.Observe(ctx, "mintA")
	if isNew {
		t.Error("second observation within the window should not be new")
	}
	if count != 2 {
		t.Errorf("expected observation count 2, got %d", count)
	}
}

func TestDedupLRUExpiresAfterWindow(t *testing.T) {
	d := NewDedupLRU(10, 10*time.Millisecond, nil)
	ctx := context.Background()

	d.Observe(ctx, "mintA")
	time.Sleep(20 * time.Millisecond)

	isNew, count := d.Observe(ctx, "mintA")
	if !isNew {
		t.Error("observation after the window elapses should be treated as new")
	}
	if count != 1 {
		t.Errorf("expected observation count reset to 1, got %d", count)
	}
}

func TestDedupLRUEvictsOldestBeyondCapacity(t *testing.T) {
	d := NewDedupLRU(2, time.Minute, nil)
	ctx := context.Background()

	d.Observe(ctx, "mintA")
	d.Observe(ctx, "mintB")
	d.Observe(ctx, "mintC")

	if d.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", d.Len())
	}

	isNew, _ := d.Observe(ctx, "mintA")
	if !isNew {
		t.Error("mintA should have been evicted and re-observed as new")
	}
}

func TestDedupLRUMoveToFrontKeepsRecentlySeenAlive(t *testing.T) {
	d := NewDedupLRU(2, time.Minute, nil)
	ctx := context.Background()

	d.Observe(ctx, "mintA")
	d.Observe(ctx, "mintB")
	d.Observe(ctx, "mintA") // touches mintA, mintB becomes least-recent
	d.Observe(ctx, "mintC") // should evict mintB, not mintA

	isNew, _ := d.Observe(ctx, "mintA")
	if isNew {
		t.Error("mintA was recently touched and should not have been evicted")
	}
	isNew, _ = d.Observe(ctx, "mintB")
	if !isNew {
		t.Error("mintB should have been evicted in favor of the more recently touched mintA")
	}
}

func TestBlockhashCacheMissBeforeSet(t *testing.T) {
	b := NewBlockhashCache(time.Second)
	_, _, fresh := b.Get()
	if fresh {
		t.Error("an empty cache should not report fresh")
	}
}

func TestBlockhashCacheGetAfterSet(t *testing.T) {
	b := NewBlockhashCache(time.Second)
	b.Set("hash1", 100)

	hash, slot, fresh := b.Get()
	if !fresh || hash != "hash1" || slot != 100 {
		t.Errorf("expected fresh hash1/100, got hash=%s slot=%d fresh=%v", hash, slot, fresh)
	}
}

func TestBlockhashCacheExpiresAfterTTL(t *testing.T) {
	b := NewBlockhashCache(10 * time.Millisecond)
	b.Set("hash1", 100)

	time.Sleep(20 * time.Millisecond)

	_, _, fresh := b.Get()
	if fresh {
		t.Error("cache should no longer be fresh after the TTL elapses")
	}
}

func TestBlockhashCacheSetSameValueIsNoop(t *testing.T) {
	b := NewBlockhashCache(time.Hour)
	b.Set("hash1", 100)
	_, _, fresh1 := b.Get()

	b.Set("hash1", 100)
	_, _, fresh2 := b.Get()

	if !fresh1 || !fresh2 {
		t.Error("setting the same value twice should not invalidate freshness")
	}
}

func TestSessionBlacklistAddAndCheck(t *testing.T) {
	s := NewSessionBlacklist(time.Hour, nil)
	ctx := context.Background()

	if s.IsBlacklisted("mintA") {
		t.Fatal("mintA should not be blacklisted before Add")
	}

	s.Add(ctx, "mintA")
	if !s.IsBlacklisted("mintA") {
		t.Error("mintA should be blacklisted after Add")
	}
}

func TestSessionBlacklistExpiresAfterTTL(t *testing.T) {
	s := NewSessionBlacklist(10*time.Millisecond, nil)
	ctx := context.Background()

	s.Add(ctx, "mintA")
	time.Sleep(20 * time.Millisecond)

	if s.IsBlacklisted("mintA") {
		t.Error("mintA should no longer be blacklisted after the TTL elapses")
	}
}
