package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "taskpool/pkg/logx"
)

func TestGoRunsAndStops(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()))

	ran := make(chan struct{})
	s.Go("worker", func(ctx context.Context) error {
		close(ran)
		<-ctx.Done()
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine never ran")
	}
	if c := s.Counters(); c.Started != 1 || c.Active != 1 {
		t.Fatalf("counters = %+v", c)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c := s.Counters(); c.Active != 0 {
		t.Fatalf("active after stop = %d", c.Active)
	}
}

func TestFirstErrorCancelsWhenEnabled(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })
	s.Go("other", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := s.Wait(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Wait error = %v, want wrapped boom", err)
	}
}

func TestPanicRecoveredAsError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("panicky", func(ctx context.Context) error { panic("kaboom") })

	if err := s.Wait(context.Background()); err == nil {
		t.Fatal("panic not surfaced as error")
	}
}

func TestContextCanceledIsCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("canceled", func(ctx context.Context) error { return context.Canceled })
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("context.Canceled treated as failure: %v", err)
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	block := make(chan struct{})
	defer close(block)
	s.Go("stuck", func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}
