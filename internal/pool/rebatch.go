package pool

import (
	"fmt"

	logx "taskpool/pkg/logx"
)

// RebatchStatic replaces the queued leaves with composites sized for the
// current concurrency: one composite per slot, each holding
// queueLen/concurrency leaves, with the remainder kept as singleton
// composites. It is a no-op when the queue holds fewer than twice the
// concurrency limit, where grouping cannot pay off.
func (p *Pool) RebatchStatic() error { return p.rebatch(1) }

// RebatchDynamic behaves like RebatchStatic but recomputes the block
// size against the remaining queue divided by divisor on every pass, so
// later composites are progressively smaller than earlier ones. This
// reduces tail latency when unit durations are uneven. Divisors below 2
// are clamped to 2.
func (p *Pool) RebatchDynamic(divisor int) error {
	if divisor < 2 {
		divisor = 2
	}
	return p.rebatch(divisor)
}

// rebatch implements both strategies; static batching is the degenerate
// case where the block is the whole remaining queue. Leaf count is
// preserved exactly: every queued unit lands in exactly one composite,
// in original queue order.
func (p *Pool) rebatch(divisor int) error {
	if p.runActive.Load() {
		return ErrRunActive
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	workers := p.cfg.Concurrency
	if len(p.queue)/2/workers == 0 {
		return nil
	}

	var groups []*Unit
	queue := p.queue
	for len(queue) > 0 {
		block := len(queue) / divisor
		per := block / workers

		if per < 1 {
			// Remainder: singleton composites preserve the total count.
			groups = append(groups, newBatch(len(groups), queue[:1]))
			queue = queue[1:]
			continue
		}
		for j := 0; j < workers && len(queue) > 0; j++ {
			n := per
			if n > len(queue) {
				n = len(queue)
			}
			groups = append(groups, newBatch(len(groups), queue[:n]))
			queue = queue[n:]
		}
	}

	p.log.Debug("queue rebatched",
		logx.Int("divisor", divisor),
		logx.Int("leaves", len(p.queue)),
		logx.Int("composites", len(groups)),
	)
	p.queue = groups
	p.rebatched = true
	return nil
}

func newBatch(idx int, leaves []*Unit) *Unit {
	children := make([]*Unit, len(leaves))
	copy(children, leaves)
	return Group(fmt.Sprintf("batch-%d", idx), children...)
}
