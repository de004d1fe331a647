package pool

import "context"

// runChildren executes the composite's children sequentially. Each child
// records its own timing and return code exactly as if it had been
// admitted on its own, so unwrapping after the run yields per-leaf
// results.
//
// A child raising a break request short-circuits the remaining siblings
// and propagates the request to the composite. Children that are
// disabled, or skipped by a sibling's break, are marked finished without
// executing.
func (u *Unit) runChildren(ctx context.Context) int {
	broke := false
	for _, c := range u.children {
		if broke || !c.Enabled() {
			c.finished.Store(true)
			continue
		}
		c.run(ctx)
		if c.BreakRequested() {
			u.breakReq.Store(true)
			broke = true
		}
	}
	return 0
}

// leafCount returns the number of leaves the unit accounts for: 1 for a
// leaf, the child count for a composite.
func (u *Unit) leafCount() int {
	if u.children == nil {
		return 1
	}
	n := 0
	for _, c := range u.children {
		n += c.leafCount()
	}
	return n
}
