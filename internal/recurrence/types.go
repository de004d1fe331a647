package recurrence

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskpool/internal/pool"
)

// Config controls the recurrence service.
type Config struct {
	Enabled     bool
	Timezone    string // IANA TZ, e.g. "Europe/Berlin"
	HistorySize int

	// Rebatch selects queue rebatching applied to every trigger:
	// "", "static" or "dynamic".
	Rebatch        string
	RebatchDivisor int
}

// Builder produces fresh units for one trigger. It runs on every fire,
// so builders must not hand out units they already gave to a previous
// trigger.
type Builder func() []*pool.Unit

// TriggerRecord captures the outcome of one workload trigger.
type TriggerRecord struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Total    int
	Finished int
	Error    string
	Skipped  bool
}

type runState struct {
	mu      sync.Mutex
	running bool
}

type workload struct {
	id      string
	name    string
	spec    string // cron spec or @every
	build   Builder
	entryID cron.EntryID
	state   *runState
}

// WorkloadInfo describes a registered workload for inspection.
type WorkloadInfo struct {
	ID   string
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Snapshot is a point-in-time view of the service.
type Snapshot struct {
	Enabled   bool
	Timezone  string
	Workloads []WorkloadInfo
	History   []TriggerRecord
}
