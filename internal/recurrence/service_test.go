package recurrence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"taskpool/internal/pool"
	logx "taskpool/pkg/logx"
)

func newTestService(cfg Config) *Service {
	return New(cfg, pool.Config{Concurrency: 2}, nil, logx.Nop())
}

func TestAddWorkloadValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true})
	build := func() []*pool.Unit { return nil }

	if _, err := s.AddWorkload("", "10m", build); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := s.AddWorkload("w", "10m", nil); err == nil {
		t.Fatal("nil builder accepted")
	}
	if _, err := s.AddWorkload("w", "not-a-schedule", build); err == nil {
		t.Fatal("bad schedule accepted")
	}
}

func TestAddWorkloadUpsertsByName(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true})
	build := func() []*pool.Unit { return nil }

	if _, err := s.AddWorkload("nightly", "5m", build); err != nil {
		t.Fatalf("AddWorkload: %v", err)
	}
	if _, err := s.AddWorkload("nightly", "10m", build); err != nil {
		t.Fatalf("AddWorkload: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Workloads) != 1 {
		t.Fatalf("workloads = %d, want 1 after upsert", len(snap.Workloads))
	}
	if snap.Workloads[0].Spec != "@every 10m0s" {
		t.Fatalf("spec = %q, want the replacement schedule", snap.Workloads[0].Spec)
	}
}

func TestRemoveWorkload(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true})
	if _, err := s.AddWorkload("gone", "5m", func() []*pool.Unit { return nil }); err != nil {
		t.Fatalf("AddWorkload: %v", err)
	}
	if !s.Remove("gone") {
		t.Fatal("Remove returned false for registered workload")
	}
	if s.Remove("gone") {
		t.Fatal("Remove returned true for absent workload")
	}
	if got := len(s.Snapshot().Workloads); got != 0 {
		t.Fatalf("workloads after remove = %d", got)
	}
}

func TestFireRunsWorkloadUnits(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true, HistorySize: 10})

	var ran atomic.Int32
	build := func() []*pool.Unit {
		units := make([]*pool.Unit, 3)
		for i := range units {
			units[i] = pool.NewUnit("count", func(ctx context.Context, u *pool.Unit) int {
				ran.Add(1)
				return 0
			})
		}
		return units
	}
	if _, err := s.AddWorkload("counter", "1h", build); err != nil {
		t.Fatalf("AddWorkload: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	// Fire directly instead of waiting for the hourly schedule.
	s.mu.Lock()
	w := s.defs[0]
	s.mu.Unlock()
	s.fire(w)

	deadline := time.Now().Add(2 * time.Second)
	for ran.Load() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("ran %d units, want 3", ran.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Trigger outcome lands in history once the goroutine retires.
	deadline = time.Now().Add(2 * time.Second)
	for {
		hist := s.Snapshot().History
		if len(hist) == 1 {
			rec := hist[0]
			if rec.Name != "counter" || rec.Total != 3 || rec.Finished != 3 || rec.Skipped {
				t.Fatalf("trigger record = %+v", rec)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history = %v", hist)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRemoveKeepsOtherWorkloadsWired(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true, HistorySize: 10})

	var ranA, ranB, ranC atomic.Int32
	count := func(n *atomic.Int32) Builder {
		return func() []*pool.Unit {
			return []*pool.Unit{pool.NewUnit("count", func(ctx context.Context, u *pool.Unit) int {
				n.Add(1)
				return 0
			})}
		}
	}
	for _, reg := range []struct {
		name string
		n    *atomic.Int32
	}{{"a", &ranA}, {"b", &ranB}} {
		if _, err := s.AddWorkload(reg.name, "1h", count(reg.n)); err != nil {
			t.Fatalf("AddWorkload(%s): %v", reg.name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	// Capture b the way a cron callback holds it, then shuffle the
	// definitions underneath: Remove compacts, AddWorkload appends.
	s.mu.Lock()
	b := s.defs[1]
	s.mu.Unlock()
	if !s.Remove("a") {
		t.Fatal("Remove(a) found nothing")
	}
	if _, err := s.AddWorkload("c", "1h", count(&ranC)); err != nil {
		t.Fatalf("AddWorkload(c): %v", err)
	}

	s.fire(b)

	deadline := time.Now().Add(2 * time.Second)
	for ranB.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("b ran %d times, want 1", ranB.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := ranA.Load(); n != 0 {
		t.Fatalf("a ran %d times after removal", n)
	}
	if n := ranC.Load(); n != 0 {
		t.Fatalf("c ran %d times off b's trigger", n)
	}
}

func TestOverlappingTriggerSkipped(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true, HistorySize: 10})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	build := func() []*pool.Unit {
		return []*pool.Unit{pool.NewUnit("block", func(ctx context.Context, u *pool.Unit) int {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return 0
		})}
	}
	if _, err := s.AddWorkload("slow", "1h", build); err != nil {
		t.Fatalf("AddWorkload: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.mu.Lock()
	w := s.defs[0]
	s.mu.Unlock()

	s.fire(w)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first trigger never started")
	}
	s.fire(w) // previous run still blocked: must be skipped

	found := false
	deadline := time.Now().Add(2 * time.Second)
	for !found {
		for _, rec := range s.Snapshot().History {
			if rec.Skipped && rec.Name == "slow" {
				found = true
			}
		}
		if !found && time.Now().After(deadline) {
			t.Fatal("overlap skip never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	s.Stop(context.Background())
}

func TestTimezoneChangeRestartsCron(t *testing.T) {
	t.Parallel()
	s := newTestService(Config{Enabled: true, Timezone: "UTC"})
	if _, err := s.AddWorkload("tz", "0 12 * * *", func() []*pool.Unit { return nil }); err != nil {
		t.Fatalf("AddWorkload: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	before := s.Snapshot().Workloads[0].Next
	s.Apply(Config{Enabled: true, Timezone: "Pacific/Kiritimati"})
	after := s.Snapshot().Workloads[0].Next
	if before.IsZero() || after.IsZero() {
		t.Fatalf("next fire times not populated: before=%v after=%v", before, after)
	}
	if before.Equal(after) {
		t.Fatal("timezone change did not reschedule")
	}
}
