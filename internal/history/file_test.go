package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"taskpool/internal/eventbus"
	"taskpool/internal/pool"
	logx "taskpool/pkg/logx"
)

func openFileStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "history"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v, want nil/nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileAppendAndRecent(t *testing.T) {
	t.Parallel()
	st := openFileStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := RunRecord{
			At:     time.Now(),
			Seq:    int64(i + 1),
			Name:   "unit",
			Code:   i,
			TookMS: int64(i * 10),
		}
		if err := st.AppendRecord(ctx, rec); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}

	got, err := st.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(got))
	}
	// Newest-last; limit keeps the tail of the file.
	for i, r := range got {
		if want := int64(i + 3); r.Seq != want {
			t.Fatalf("record %d seq = %d, want %d", i, r.Seq, want)
		}
	}
}

func TestFileRecentOnEmptyStore(t *testing.T) {
	t.Parallel()
	st := openFileStore(t)
	got, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Recent on empty store = %v", got)
	}
}

func TestRecorderPersistsFinishedUnits(t *testing.T) {
	t.Parallel()
	st := openFileStore(t)
	bus := eventbus.New()
	rec := NewRecorder(st, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	p := pool.New(pool.Config{Concurrency: 2}, logx.Nop(), bus)
	for i := 0; i < 4; i++ {
		i := i
		u := pool.NewUnit("rec", func(ctx context.Context, u *pool.Unit) int { return i })
		if err := p.Submit(u); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Recorder consumes asynchronously; poll until all four land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(got) == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorder persisted %d records, want 4", len(got))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}
