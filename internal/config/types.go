package config

type Config struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Pool controls the execution pool: worker count, progress tick pacing
	// and the optional queue rebatching mode.
	Pool PoolConfig `json:"pool" yaml:"pool"`

	// History controls the optional run-record persistence layer.
	// Nil means disabled.
	History *HistoryConfig `json:"history,omitempty" yaml:"history,omitempty"`

	Progress ProgressConfig `json:"progress" yaml:"progress"`

	// Recurrence controls scheduled (cron/interval/daily) workload triggers.
	Recurrence RecurrenceConfig `json:"recurrence" yaml:"recurrence"`
}

// PoolConfig controls the execution pool.
//
// All durations are Go duration strings (e.g. "100ms", "2s").
//
// Defaults (when fields are omitted/zero):
//   - workers: TASKPOOL_WORKERS env var, else runtime.NumCPU()
//   - tick_interval: "100ms"
//   - rebatch: "" (off)
//   - rebatch_divisor: 2
type PoolConfig struct {
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// TickInterval paces the periodic progress events emitted during a run.
	TickInterval string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`

	// Rebatch selects the queue rebatching mode: "", "static" or "dynamic".
	Rebatch        string `json:"rebatch,omitempty" yaml:"rebatch,omitempty"`
	RebatchDivisor int    `json:"rebatch_divisor,omitempty" yaml:"rebatch_divisor,omitempty"`
}

// HistoryConfig controls the optional persistence layer for run records.
//
// Example:
//
//	"history": { "driver": "file", "path": "./taskpool_history" }
type HistoryConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ProgressConfig controls the terminal progress renderer.
//
// Mode is "none", "discrete" (10% milestones) or "continuous".
type ProgressConfig struct {
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// MaxPerSec caps continuous redraw frequency. 0 keeps the default (10).
	MaxPerSec int `json:"max_per_sec,omitempty" yaml:"max_per_sec,omitempty"`
}

// RecurrenceConfig controls scheduled workload triggers.
type RecurrenceConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Trigger timezone, e.g. "Europe/Berlin". Empty means local time.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// HistorySize bounds the in-memory ring of recent trigger outcomes.
	HistorySize int `json:"history_size,omitempty" yaml:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}
