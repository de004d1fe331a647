package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Ownership decides who is responsible for a unit once the pool no
// longer tracks it.
type Ownership int

const (
	// PoolOwned units are dropped by Clear(); the pool is their only
	// owner and nothing outside the pool should hold on to them.
	PoolOwned Ownership = iota
	// CallerOwned units are removed from pool bookkeeping by Clear()
	// with their recorded state intact, and may be submitted again.
	CallerOwned
)

// CodePanic is recorded as the return code of a unit whose work
// panicked. The panic message is available via PanicMessage().
const CodePanic = -1

// Work is the caller-supplied function executed by a unit. The returned
// code is recorded on the unit; a nonzero code marks the unit as failed
// but never stops the run. Work may call u.RequestBreak() to ask the
// pool to stop admitting queued units.
type Work func(ctx context.Context, u *Unit) int

// Unit is a schedulable piece of work: either a leaf wrapping a Work
// func, or a composite holding an ordered list of children that run
// sequentially inside a single scheduling slot.
//
// Execution state (running, finished, code, elapsed, break request) is
// written by the one goroutine executing the unit and read by the
// orchestrator and callers, so those fields are atomics. Everything
// else is set before admission and is read-only afterwards.
type Unit struct {
	name     string
	work     Work
	children []*Unit // composite only

	// seq is assigned at admission and never touched by workers.
	seq       int64
	ownership Ownership

	enabled   atomic.Bool
	submitted atomic.Bool
	running   atomic.Bool
	finished  atomic.Bool
	breakReq  atomic.Bool

	code      atomic.Int64
	elapsed   atomic.Int64 // nanoseconds
	startedAt atomic.Int64 // unix nanoseconds, 0 = never ran
	panicMsg  atomic.Value // string
}

// NewUnit returns an enabled, pool-owned leaf unit.
func NewUnit(name string, work Work) *Unit {
	u := &Unit{name: name, work: work}
	u.enabled.Store(true)
	return u
}

// Group returns a composite unit that runs the given children in order
// inside one scheduling slot. Children raising a break request
// short-circuit their remaining siblings; the request propagates to the
// composite.
func Group(name string, children ...*Unit) *Unit {
	u := &Unit{name: name, children: children}
	u.enabled.Store(true)
	return u
}

func (u *Unit) Name() string { return u.name }

// Seq returns the admission sequence number. Zero means the unit has
// not been admitted individually (composite children keep zero).
func (u *Unit) Seq() int64 { return u.seq }

// IsComposite reports whether the unit wraps child units.
func (u *Unit) IsComposite() bool { return u.children != nil }

// Children returns a copy of the composite's child list, or nil for a
// leaf.
func (u *Unit) Children() []*Unit {
	if u.children == nil {
		return nil
	}
	out := make([]*Unit, len(u.children))
	copy(out, u.children)
	return out
}

// SetEnabled enables or disables the unit. A disabled unit moves from
// the queue straight to the finished set without executing.
func (u *Unit) SetEnabled(enabled bool) { u.enabled.Store(enabled) }

func (u *Unit) Enabled() bool { return u.enabled.Load() }

func (u *Unit) Running() bool  { return u.running.Load() }
func (u *Unit) Finished() bool { return u.finished.Load() }

// Code returns the recorded return code of the last execution.
func (u *Unit) Code() int { return int(u.code.Load()) }

// Elapsed returns the recorded execution duration, zero if the unit
// never executed (disabled or skipped).
func (u *Unit) Elapsed() time.Duration { return time.Duration(u.elapsed.Load()) }

// StartedAt returns when execution began, or the zero time if the unit
// never executed.
func (u *Unit) StartedAt() time.Time {
	ns := u.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RequestBreak asks the pool to stop admitting queued units. It is
// cooperative: in-flight units finish normally and the request is
// observed once this unit completes.
func (u *Unit) RequestBreak() { u.breakReq.Store(true) }

func (u *Unit) BreakRequested() bool { return u.breakReq.Load() }

// PanicMessage returns the recovered panic message of the last
// execution, or "" if the work returned normally.
func (u *Unit) PanicMessage() string {
	v, _ := u.panicMsg.Load().(string)
	return v
}

// SetOwnership tags the unit as PoolOwned (default) or CallerOwned.
func (u *Unit) SetOwnership(o Ownership) { u.ownership = o }

func (u *Unit) Ownership() Ownership { return u.ownership }

// Reset returns the unit (and, for composites, its children) to the
// pre-run state so it can execute again. It must not be called while
// the unit is active; Pool.Reset handles resubmission.
func (u *Unit) Reset() {
	u.running.Store(false)
	u.finished.Store(false)
	u.breakReq.Store(false)
	u.code.Store(0)
	u.elapsed.Store(0)
	u.startedAt.Store(0)
	u.panicMsg.Store("")
	for _, c := range u.children {
		c.Reset()
	}
}

// run executes the unit and publishes completion state. It is called
// from exactly one goroutine per admission. The finished flag is stored
// last, so any reader observing it also observes code and elapsed.
func (u *Unit) run(ctx context.Context) {
	u.running.Store(true)
	begin := time.Now()
	u.startedAt.Store(begin.UnixNano())

	code := u.invoke(ctx)

	u.code.Store(int64(code))
	u.elapsed.Store(int64(time.Since(begin)))
	u.running.Store(false)
	u.finished.Store(true)
}

func (u *Unit) invoke(ctx context.Context) (code int) {
	defer func() {
		if r := recover(); r != nil {
			u.panicMsg.Store(fmt.Sprint(r))
			code = CodePanic
		}
	}()

	if u.children != nil {
		return u.runChildren(ctx)
	}
	if u.work == nil {
		return 0
	}
	return u.work(ctx, u)
}
