package pool

import "time"

// DefaultTickInterval paces progress snapshots when the config does not
// say otherwise.
const DefaultTickInterval = 100 * time.Millisecond

// Config controls a Pool.
//
// The zero value is usable: concurrency is clamped to 1 and the tick
// interval falls back to DefaultTickInterval. Callers that want the
// machine-derived default should fill Concurrency from an external
// source (see config.DefaultWorkers).
type Config struct {
	// Concurrency is the maximum number of units executing at once.
	// Values below 1 are clamped to 1.
	Concurrency int

	// TickInterval paces progress snapshots while a run is in flight.
	// Completion detection does not depend on it.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	return c
}
