// Package pool implements an in-process task scheduler with bounded
// concurrency.
//
// # Overview
//
// Callers wrap work in Units and submit them to a Pool. Run() admits
// units from the FIFO queue into the active set, at most Concurrency at
// a time, each on its own goroutine. Finished units accumulate in the
// finished set in completion order, where callers inspect per-unit
// return codes and durations.
//
// # Batching
//
// When units are small, per-unit scheduling overhead can dominate.
// RebatchStatic and RebatchDynamic group queued leaf units into
// composite units that occupy a single slot and run their children
// sequentially. After a run the pool unwraps composites again, so
// callers always observe per-leaf results.
//
// # Cooperative break
//
// A unit's work may call RequestBreak() to ask the pool to stop
// admitting queued units. In-flight units always finish normally; the
// break is observed when the requesting unit completes.
//
// # Observation
//
// The pool performs no I/O. Lifecycle and progress events are published
// on an eventbus.Bus; renderers and recorders subscribe to it.
package pool
