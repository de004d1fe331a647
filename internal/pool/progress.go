package pool

import (
	"time"

	"taskpool/internal/eventbus"
)

// Event types published on the bus.
const (
	EventRunStarted   = "pool.run.started"
	EventRunFinished  = "pool.run.finished"
	EventUnitStarted  = "pool.unit.started"
	EventUnitSkipped  = "pool.unit.skipped"
	EventUnitFinished = "pool.unit.finished"
	EventProgress     = "pool.progress"
	EventBreak        = "pool.break"
)

// RunEvent is the payload for run lifecycle events.
type RunEvent struct {
	Total       int           `json:"total"`
	Finished    int           `json:"finished"`
	Concurrency int           `json:"concurrency"`
	Duration    time.Duration `json:"duration"`
}

// UnitEvent is the payload for unit lifecycle events.
type UnitEvent struct {
	Seq      int64         `json:"seq"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Code     int           `json:"code"`
	Skipped  bool          `json:"skipped,omitempty"`
	Break    bool          `json:"break,omitempty"`
	Panic    string        `json:"panic,omitempty"`
}

// Progress is a point-in-time view of a run, published on EventProgress
// and available from Pool.Progress(). Percentages follow the original
// reporting: finished and active are relative to the units the run
// started with, load is relative to the concurrency limit.
type Progress struct {
	Total    int `json:"total"`
	Queued   int `json:"queued"`
	Active   int `json:"active"`
	Finished int `json:"finished"`

	PercentFinished float64 `json:"percent_finished"`
	PercentActive   float64 `json:"percent_active"`
	PercentLoad     float64 `json:"percent_load"`
}

// Progress returns a snapshot of the current run state. Outside a run,
// Total reflects the queue length.
func (p *Pool) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *Pool) progressLocked() Progress {
	total := p.runTotal
	if total == 0 {
		total = len(p.queue) + len(p.active) + len(p.finished)
	}
	pr := Progress{
		Total:    total,
		Queued:   len(p.queue),
		Active:   len(p.active),
		Finished: len(p.finished),
	}
	if total > 0 {
		pr.PercentFinished = float64(pr.Finished) / float64(total) * 100
		pr.PercentActive = float64(pr.Active) / float64(total) * 100
	}
	if c := p.cfg.Concurrency; c > 0 {
		pr.PercentLoad = float64(pr.Active) / float64(c) * 100
	}
	return pr
}

func (p *Pool) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (p *Pool) publishProgress() {
	if p.bus == nil {
		return
	}
	p.mu.Lock()
	pr := p.progressLocked()
	p.mu.Unlock()
	p.bus.Publish(eventbus.Event{Type: EventProgress, Data: pr})
}

func unitEvent(u *Unit, skipped bool) UnitEvent {
	return UnitEvent{
		Seq:      u.Seq(),
		Name:     u.Name(),
		Started:  u.StartedAt(),
		Duration: u.Elapsed(),
		Code:     u.Code(),
		Skipped:  skipped,
		Break:    u.BreakRequested(),
		Panic:    u.PanicMessage(),
	}
}
