package workerpool

import (
	"context"
	"testing"
	"time"
)

func TestPoolRunProcessesAllItems(t *testing.T) {
	p := New[int, int](4, func(ctx context.Context, item int) (int, bool) {
		return item * 2, true
	})

	results := p.Run(context.Background(), []int{1, 2, 3, 4, 5})
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}

	sum := 0
	for _, r := range results {
		sum += r
	}
	if sum != 30 {
		t.Errorf("expected sum 30, got %d", sum)
	}
}

func TestPoolRunFiltersOnOk(t *testing.T) {
	p := New[int, int](2, func(ctx context.Context, item int) (int, bool) {
		return item, item%2 == 0
	})

	results := p.Run(context.Background(), []int{1, 2, 3, 4, 5, 6})
	if len(results) != 3 {
		t.Fatalf("expected 3 even results, got %d", len(results))
	}
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	p := New[int, int](0, func(ctx context.Context, item int) (int, bool) { return item, true })
	if p.workers <= 0 {
		t.Error("a non-positive worker count should default to NumCPU, not stay <= 0")
	}
}

func TestDispatchCollectsAllResults(t *testing.T) {
	fns := []func(ctx context.Context) (int, error){
		func(ctx context.Context) (int, error) { return 1, nil },
		func(ctx context.Context) (int, error) { return 2, nil },
		func(ctx context.Context) (int, error) { return 3, nil },
	}

	results := Dispatch(context.Background(), fns)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result %d: unexpected error %v", i, r.Err)
		}
	}
}

func TestDispatchRespectsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	fns := []func(ctx context.Context) (int, error){
		func(ctx context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			return 1, nil
		},
		func(ctx context.Context) (int, error) {
			select {
			case <-time.After(time.Second):
				return 2, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		},
	}

	results := Dispatch(ctx, fns)
	if results[0].Err != nil {
		t.Errorf("fast call should have completed before the deadline, got error %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("slow call should report the deadline error")
	}
}

func TestDispatchNoTornResultsUnderRace(t *testing.T) {
	// Regression test: Dispatch must never read a Result written
	// concurrently by a worker goroutine without synchronization.
	fns := make([]func(ctx context.Context) (int, error), 50)
	for i := range fns {
		i := i
		fns[i] = func(ctx context.Context) (int, error) { return i, nil }
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results := Dispatch(ctx, fns)
	for i, r := range results {
		if r.Err == nil && r.Value != i {
			t.Errorf("result %d has value %d, want %d", i, r.Value, i)
		}
	}
}
