package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taskpool/internal/eventbus"
	logx "taskpool/pkg/logx"
)

// Pool schedules submitted units with bounded concurrency.
//
// The queue, active set and finished set are mutated only by the
// orchestrating control flow (Submit/Run/Reset/Clear); worker goroutines
// touch nothing but their own unit. The mutex exists so accessors can
// snapshot the collections while a run is in flight.
type Pool struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config

	queue    []*Unit
	active   []*Unit
	finished []*Unit

	nextSeq   int64
	runTotal  int
	rebatched bool

	runActive atomic.Bool
}

// New creates a pool. bus may be nil; the pool then emits no events.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Submit appends a unit to the queue. It rejects nil units, units that
// are already tracked by a pool, and submission while a run is active.
func (p *Pool) Submit(u *Unit) error {
	if u == nil {
		return ErrNilUnit
	}
	if !u.submitted.CompareAndSwap(false, true) {
		return ErrAlreadySubmitted
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runActive.Load() {
		u.submitted.Store(false)
		return ErrRunActive
	}
	p.queue = append(p.queue, u)
	return nil
}

// SubmitAll submits units in order, stopping at the first failure.
func (p *Pool) SubmitAll(units ...*Unit) error {
	for _, u := range units {
		if err := p.Submit(u); err != nil {
			return err
		}
	}
	return nil
}

// SetConcurrency sets the maximum active set size. Values below 1 are
// clamped to 1. A run in flight keeps the limit it started with; the
// new value applies from the next Run.
func (p *Pool) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.cfg.Concurrency = n
	p.mu.Unlock()
}

// Concurrency returns the current concurrency limit.
func (p *Pool) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Concurrency
}

// Queued returns a snapshot of the not-yet-started units.
func (p *Pool) Queued() []*Unit { return p.snapshot(&p.queue) }

// Active returns a snapshot of the currently executing units.
func (p *Pool) Active() []*Unit { return p.snapshot(&p.active) }

// Finished returns a snapshot of the completed units, in completion
// order.
func (p *Pool) Finished() []*Unit { return p.snapshot(&p.finished) }

func (p *Pool) snapshot(src *[]*Unit) []*Unit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Unit, len(*src))
	copy(out, *src)
	return out
}

// Run blocks until the queue and the active set are both empty, or until
// a break request halts admission and the in-flight units drain. It
// returns the context error when the run was cut short by cancellation;
// individual unit failures are recorded on the units, never returned.
//
// With concurrency 1 units execute inline on the calling goroutine,
// with identical observable ordering and results.
func (p *Pool) Run(ctx context.Context) error {
	if !p.runActive.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	defer p.runActive.Store(false)

	p.mu.Lock()
	cfg := p.cfg
	p.runTotal = len(p.queue)
	total := p.runTotal
	p.mu.Unlock()

	start := time.Now()
	p.log.Debug("run started",
		logx.Int("units", total),
		logx.Int("concurrency", cfg.Concurrency),
	)
	p.publish(EventRunStarted, RunEvent{Total: total, Concurrency: cfg.Concurrency})

	var err error
	if cfg.Concurrency == 1 {
		err = p.runSerial(ctx)
	} else {
		err = p.runParallel(ctx, cfg)
	}

	p.mu.Lock()
	if p.rebatched {
		p.unwrapLocked()
	}
	finished := len(p.finished)
	p.runTotal = 0
	p.mu.Unlock()

	took := time.Since(start)
	p.log.Debug("run finished",
		logx.Int("finished", finished),
		logx.Duration("took", took),
	)
	p.publish(EventRunFinished, RunEvent{
		Total:       total,
		Finished:    finished,
		Concurrency: cfg.Concurrency,
		Duration:    took,
	})
	return err
}

func (p *Pool) runParallel(ctx context.Context, cfg Config) error {
	done := make(chan *Unit, cfg.Concurrency)
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	halted := false

	for {
		p.mu.Lock()
		if !halted {
			for len(p.active) < cfg.Concurrency && len(p.queue) > 0 {
				p.admitLocked(ctx, done)
			}
		}
		queued := len(p.queue)
		activeN := len(p.active)
		p.mu.Unlock()

		if activeN == 0 && (queued == 0 || halted) {
			break
		}

		select {
		case u := <-done:
			if p.retire(u) {
				halted = true
			}
		case <-ticker.C:
			p.publishProgress()
		case <-ctxDone:
			// Stop admitting; in-flight units observe ctx themselves
			// and are drained normally.
			halted = true
			ctxDone = nil
			p.log.Debug("run canceled; draining active units")
		}
	}
	return ctx.Err()
}

func (p *Pool) runSerial(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		u := p.queue[0]
		p.queue = p.queue[1:]
		p.nextSeq++
		u.seq = p.nextSeq
		if !u.Enabled() {
			u.finished.Store(true)
			p.finished = append(p.finished, u)
			p.mu.Unlock()
			p.publish(EventUnitSkipped, unitEvent(u, true))
			continue
		}
		p.active = append(p.active, u)
		p.mu.Unlock()
		p.publish(EventUnitStarted, unitEvent(u, false))

		u.run(ctx)

		if p.retire(u) {
			return ctx.Err()
		}
	}
}

// admitLocked pops the queue head, assigns its sequence id and starts
// it. Disabled units keep their id but move straight to the finished
// set without a worker. Callers hold p.mu.
func (p *Pool) admitLocked(ctx context.Context, done chan<- *Unit) {
	u := p.queue[0]
	p.queue = p.queue[1:]
	p.nextSeq++
	u.seq = p.nextSeq

	if !u.Enabled() {
		u.finished.Store(true)
		p.finished = append(p.finished, u)
		p.publish(EventUnitSkipped, unitEvent(u, true))
		return
	}

	p.active = append(p.active, u)
	p.publish(EventUnitStarted, unitEvent(u, false))

	go func() {
		u.run(ctx)
		done <- u
	}()
}

// retire moves a completed unit from the active set to the finished set
// and reports whether it raised a break request.
func (p *Pool) retire(u *Unit) bool {
	p.mu.Lock()
	for i, a := range p.active {
		if a == u {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
	p.finished = append(p.finished, u)
	p.mu.Unlock()

	switch {
	case u.PanicMessage() != "":
		p.log.Error("unit panicked",
			logx.String("unit", u.Name()),
			logx.Int64("seq", u.Seq()),
			logx.String("panic", u.PanicMessage()),
		)
	case u.Code() != 0:
		p.log.Warn("unit failed",
			logx.String("unit", u.Name()),
			logx.Int64("seq", u.Seq()),
			logx.Int("code", u.Code()),
			logx.Duration("took", u.Elapsed()),
		)
	default:
		p.log.Debug("unit finished",
			logx.String("unit", u.Name()),
			logx.Int64("seq", u.Seq()),
			logx.Duration("took", u.Elapsed()),
		)
	}
	// Observers always see per-leaf results: a retired composite is
	// reported as its children.
	if u.IsComposite() {
		for _, c := range u.children {
			p.publish(EventUnitFinished, unitEvent(c, c.StartedAt().IsZero()))
		}
	} else {
		p.publish(EventUnitFinished, unitEvent(u, false))
	}
	p.publishProgress()

	if u.BreakRequested() {
		p.log.Info("break requested; halting admission", logx.String("unit", u.Name()))
		p.publish(EventBreak, unitEvent(u, false))
		return true
	}
	return false
}

// unwrapLocked replaces finished composites with their children, in
// order, preserving each child's recorded duration and return code.
// Callers hold p.mu.
func (p *Pool) unwrapLocked() {
	out := make([]*Unit, 0, len(p.finished))
	for _, u := range p.finished {
		if u.IsComposite() {
			out = append(out, u.children...)
			continue
		}
		out = append(out, u)
	}
	p.finished = out
	p.rebatched = false
}

// Reset moves every finished unit back to the queue, in the same
// relative order, cleared to its pre-run state. Because Run unwraps
// composites, Reset operates on leaves unless a fresh rebatch is
// applied.
func (p *Pool) Reset() error {
	if p.runActive.Load() {
		return ErrRunActive
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.finished {
		u.Reset()
		p.queue = append(p.queue, u)
	}
	p.finished = nil
	return nil
}

// Clear empties the queue, active set and finished set. PoolOwned units
// are dropped; CallerOwned units (and caller-owned children of dropped
// composites) are released back to their owners with recorded state
// intact, free to be submitted again.
func (p *Pool) Clear() error {
	if p.runActive.Load() {
		return ErrRunActive
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, set := range [][]*Unit{p.queue, p.active, p.finished} {
		for _, u := range set {
			releaseOwned(u)
		}
	}
	p.queue = nil
	p.active = nil
	p.finished = nil
	p.rebatched = false
	return nil
}

func releaseOwned(u *Unit) {
	if u.ownership == CallerOwned {
		u.submitted.Store(false)
	}
	for _, c := range u.children {
		releaseOwned(c)
	}
}
