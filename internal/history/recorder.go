package history

import (
	"context"
	"time"

	"taskpool/internal/eventbus"
	"taskpool/internal/pool"
	logx "taskpool/pkg/logx"
)

// Recorder subscribes to unit lifecycle events and appends a RunRecord
// per finished or skipped leaf. It is the only writer the store sees at
// runtime, so append ordering matches event ordering.
type Recorder struct {
	store  Store
	log    logx.Logger
	events <-chan eventbus.Event
	cancel func()
}

// NewRecorder subscribes immediately, so events published between
// construction and Run are buffered rather than lost.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{store: store, log: log}
	if store != nil && bus != nil {
		r.events, r.cancel = bus.Subscribe(256)
	}
	return r
}

// Run consumes events until ctx is done. Intended to run under the
// supervisor; returns nil on normal shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	if r.events == nil {
		return nil
	}
	events := r.events
	defer r.cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != pool.EventUnitFinished && ev.Type != pool.EventUnitSkipped {
				continue
			}
			ue, ok := ev.Data.(pool.UnitEvent)
			if !ok {
				continue
			}
			rec := RunRecord{
				At:       ue.Started,
				Seq:      ue.Seq,
				Name:     ue.Name,
				Code:     ue.Code,
				TookMS:   ue.Duration.Milliseconds(),
				Skipped:  ue.Skipped,
				BreakReq: ue.Break,
				Panic:    ue.Panic,
			}
			if rec.At.IsZero() {
				rec.At = time.Now()
			}
			if err := r.store.AppendRecord(ctx, rec); err != nil {
				r.log.Warn("history append failed",
					logx.Int64("seq", ue.Seq),
					logx.String("unit", ue.Name),
					logx.Err(err),
				)
			}
		}
	}
}
