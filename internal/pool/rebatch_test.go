package pool

import (
	"context"
	"sort"
	"testing"
)

func indexedUnits(n int) []*Unit {
	units := make([]*Unit, n)
	for i := 0; i < n; i++ {
		i := i
		units[i] = NewUnit("leaf", func(ctx context.Context, u *Unit) int { return i })
	}
	return units
}

func TestStaticRebatchPreservesLeaves(t *testing.T) {
	t.Parallel()
	const n, c = 17, 4

	p := New(Config{Concurrency: c}, logxNop(), nil)
	mustSubmit(t, p, indexedUnits(n)...)

	if err := p.RebatchStatic(); err != nil {
		t.Fatalf("RebatchStatic: %v", err)
	}

	// 4 composites of 4 leaves plus one singleton for the remainder.
	queued := p.Queued()
	if len(queued) != 5 {
		t.Fatalf("composites = %d, want 5", len(queued))
	}
	leaves := 0
	for _, g := range queued {
		if !g.IsComposite() {
			t.Fatal("rebatched queue holds a bare leaf")
		}
		leaves += g.leafCount()
	}
	if leaves != n {
		t.Fatalf("leaf count after rebatch = %d, want %d", leaves, n)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Unwrapping yields per-leaf results, as if never batched.
	fin := p.Finished()
	if len(fin) != n {
		t.Fatalf("finished leaves = %d, want %d", len(fin), n)
	}
	var codes []int
	for _, u := range fin {
		if u.IsComposite() {
			t.Fatal("composite left in finished set after unwrap")
		}
		if !u.Finished() {
			t.Fatal("unwrapped leaf not finished")
		}
		codes = append(codes, u.Code())
	}
	sort.Ints(codes)
	for i, got := range codes {
		if got != i {
			t.Fatalf("return codes after unwrap = %v", codes)
		}
	}
}

func TestRebatchNoOpOnSmallQueue(t *testing.T) {
	t.Parallel()
	p := New(Config{Concurrency: 4}, logxNop(), nil)
	mustSubmit(t, p, indexedUnits(7)...) // below 2x concurrency

	if err := p.RebatchStatic(); err != nil {
		t.Fatalf("RebatchStatic: %v", err)
	}
	for _, u := range p.Queued() {
		if u.IsComposite() {
			t.Fatal("small queue must not be rebatched")
		}
	}
	if got := len(p.Queued()); got != 7 {
		t.Fatalf("queue = %d, want 7", got)
	}
}

func TestDynamicRebatchShrinksBlocks(t *testing.T) {
	t.Parallel()
	const n, c = 16, 2

	p := New(Config{Concurrency: c}, logxNop(), nil)
	mustSubmit(t, p, indexedUnits(n)...)

	if err := p.RebatchDynamic(2); err != nil {
		t.Fatalf("RebatchDynamic: %v", err)
	}

	queued := p.Queued()
	leaves := 0
	for _, g := range queued {
		leaves += g.leafCount()
	}
	if leaves != n {
		t.Fatalf("leaf count = %d, want %d", leaves, n)
	}

	first := queued[0].leafCount()
	last := queued[len(queued)-1].leafCount()
	if first <= last {
		t.Fatalf("dynamic batches must shrink: first=%d last=%d", first, last)
	}
}

func TestRebatchKeepsQueueOrder(t *testing.T) {
	t.Parallel()
	const n = 12

	// Serial so completion order is deterministic end to end.
	p := New(Config{Concurrency: 1}, logxNop(), nil)
	mustSubmit(t, p, indexedUnits(n)...)
	if err := p.RebatchStatic(); err != nil {
		t.Fatalf("RebatchStatic: %v", err)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Reset after unwrap requeues leaves in completion order; the
	// second run must observe the original submission order.
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	fin := p.Finished()
	if len(fin) != n {
		t.Fatalf("finished = %d, want %d", len(fin), n)
	}
	for i, u := range fin {
		if u.Code() != i {
			t.Fatalf("order not preserved: position %d has code %d", i, u.Code())
		}
	}
}

func TestBreakInsideCompositeHaltsPool(t *testing.T) {
	t.Parallel()
	p := New(Config{Concurrency: 1}, logxNop(), nil)

	breaker := NewUnit("breaker", func(ctx context.Context, u *Unit) int {
		u.RequestBreak()
		return 0
	})
	trailing := NewUnit("trailing", func(ctx context.Context, u *Unit) int {
		t.Error("unit admitted after composite break")
		return 0
	})

	if err := p.Submit(breaker); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p.mu.Lock()
	p.queue = []*Unit{Group("g", breaker)}
	p.rebatched = true
	p.mu.Unlock()
	mustSubmit(t, p, trailing)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(p.Queued()); got != 1 {
		t.Fatalf("queue after break = %d, want 1", got)
	}
}
