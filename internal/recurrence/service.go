package recurrence

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskpool/internal/eventbus"
	"taskpool/internal/pool"
	logx "taskpool/pkg/logx"
)

// Event types published on the bus.
const (
	EventTriggerStarted  = "recurrence.trigger.started"
	EventTriggerSkipped  = "recurrence.trigger.skipped"
	EventTriggerFinished = "recurrence.trigger.finished"
)

// TriggerEvent is the payload for trigger lifecycle events.
type TriggerEvent struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Total    int           `json:"total,omitempty"`
	Finished int           `json:"finished,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	bus     eventbus.Bus
	cfg     Config
	poolCfg pool.Config
	loc     *time.Location

	parser cron.Parser
	c      *cron.Cron

	// defs holds pointers: registered cron closures capture the
	// workload, so entries must stay valid across slice compaction.
	defs []*workload

	runCtx    context.Context
	runCancel context.CancelFunc
	triggerWG sync.WaitGroup

	hmu     sync.Mutex
	history []TriggerRecord
}

func New(cfg Config, poolCfg pool.Config, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		poolCfg: poolCfg,
		bus:     bus,
		log:     log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// detect timezone change
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		// restart cron with new location and re-register workloads
		s.restartLocked()
	}
}

// ApplyPool swaps the pool settings used by future triggers. Running
// triggers keep the settings they started with.
func (s *Service) ApplyPool(poolCfg pool.Config) {
	s.mu.Lock()
	s.poolCfg = poolCfg
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	// re-register existing workloads (if any)
	for _, w := range s.defs {
		if err := s.registerLocked(w); err != nil {
			s.log.Error("workload register failed",
				logx.String("workload", w.name),
				logx.String("spec", w.spec),
				logx.Err(err),
			)
		}
	}

	s.c.Start()
	s.log.Info("recurrence started",
		logx.String("tz", loc.String()),
		logx.Int("workloads", len(s.defs)),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	for _, w := range s.defs {
		w.entryID = 0
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-c.Stop().Done()

	// wait for in-flight triggers, bounded by ctx
	done := make(chan struct{})
	go func() {
		s.triggerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("recurrence stopped")
}

// AddWorkload registers a builder under the given schedule. Upserts by
// name so hot-reloads and repeated registrations don't duplicate
// triggers.
func (s *Service) AddWorkload(name, schedule string, build Builder) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if build == nil {
		return "", errors.New("builder required")
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	spec := sched.Spec

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.removeLocked(name)

	id := fmt.Sprintf("workload:%d", time.Now().UnixNano())
	w := &workload{
		id:    id,
		name:  name,
		spec:  spec,
		build: build,
		state: &runState{},
	}
	s.defs = append(s.defs, w)
	if s.c != nil {
		if err := s.registerLocked(w); err != nil {
			s.log.Error("workload register failed",
				logx.String("workload", name),
				logx.String("spec", spec),
				logx.Err(err),
			)
			return id, err
		}
		s.log.Debug("workload registered",
			logx.String("workload", name),
			logx.String("id", id),
			logx.String("spec", spec),
		)
	}
	// Not started yet: keep the definition and register when Start() runs.
	return id, nil
}

// Remove unschedules the named workload. It returns true if something
// was removed. Safe to call when the service is not started.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("workload removed", logx.String("workload", name))
	}
	return removed
}

// removeLocked removes all workloads matching name and unregisters them
// from cron if running. Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	removed := false
	if s.c != nil {
		for _, w := range s.defs {
			if w.name == name && w.entryID != 0 {
				s.c.Remove(w.entryID)
				w.entryID = 0
				removed = true
			}
		}
	}
	n := 0
	for _, w := range s.defs {
		if w.name == name {
			removed = true
			continue
		}
		s.defs[n] = w
		n++
	}
	if n < len(s.defs) {
		s.defs = s.defs[:n]
	}
	return removed
}

func (s *Service) registerLocked(w *workload) error {
	eid, err := s.c.AddFunc(w.spec, func() { s.fire(w) })
	if err == nil {
		w.entryID = eid
	}
	return err
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, w := range s.defs {
		_ = s.registerLocked(w)
	}
	s.c.Start()
	s.log.Info("recurrence restarted", logx.String("tz", loc.String()), logx.Int("workloads", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// fire handles one cron callback: skip if the previous trigger of the
// same workload is still running, otherwise run it asynchronously.
func (s *Service) fire(w *workload) {
	w.state.mu.Lock()
	if w.state.running {
		w.state.mu.Unlock()
		s.log.Debug("trigger skipped (previous run still going)", logx.String("workload", w.name))
		now := time.Now()
		s.publish(EventTriggerSkipped, TriggerEvent{Name: w.name, Started: now})
		s.record(TriggerRecord{Name: w.name, Started: now, Skipped: true})
		return
	}
	w.state.running = true
	w.state.mu.Unlock()

	s.mu.Lock()
	ctx := s.runCtx
	poolCfg := s.poolCfg
	cfg := s.cfg
	s.mu.Unlock()
	if ctx == nil {
		w.state.mu.Lock()
		w.state.running = false
		w.state.mu.Unlock()
		return
	}

	s.triggerWG.Add(1)
	go func() {
		defer s.triggerWG.Done()
		defer func() {
			w.state.mu.Lock()
			w.state.running = false
			w.state.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in workload trigger",
					logx.String("workload", w.name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		s.trigger(ctx, w, poolCfg, cfg)
	}()
}

func (s *Service) trigger(ctx context.Context, w *workload, poolCfg pool.Config, cfg Config) {
	start := time.Now()
	s.publish(EventTriggerStarted, TriggerEvent{Name: w.name, Started: start})

	units := w.build()
	p := pool.New(poolCfg, s.log.With(logx.String("workload", w.name)), s.bus)

	rec := TriggerRecord{Name: w.name, Started: start}
	err := p.SubmitAll(units...)
	if err == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Rebatch)) {
		case "static":
			err = p.RebatchStatic()
		case "dynamic":
			err = p.RebatchDynamic(cfg.RebatchDivisor)
		}
	}
	if err == nil {
		rec.Total = len(units)
		err = p.Run(ctx)
	}
	rec.Duration = time.Since(start)
	rec.Finished = len(p.Finished())
	if err != nil {
		rec.Error = err.Error()
		s.log.Warn("trigger failed",
			logx.String("workload", w.name),
			logx.Int("finished", rec.Finished),
			logx.Int("total", rec.Total),
			logx.Err(err),
		)
	} else {
		s.log.Info("trigger ok",
			logx.String("workload", w.name),
			logx.Int("units", rec.Finished),
			logx.Duration("took", rec.Duration),
		)
	}

	s.publish(EventTriggerFinished, TriggerEvent{
		Name:     w.name,
		Started:  start,
		Duration: rec.Duration,
		Total:    rec.Total,
		Finished: rec.Finished,
		Error:    rec.Error,
	})
	s.record(rec)
}

func (s *Service) publish(typ string, ev TriggerEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) record(rec TriggerRecord) {
	s.mu.Lock()
	keep := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, rec)
	if keep > 0 && len(s.history) > keep {
		s.history = s.history[len(s.history)-keep:]
	}
}

// Snapshot returns the registered workloads with their next/prev fire
// times plus recent trigger history.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: s.cfg.Timezone,
	}
	for _, w := range s.defs {
		info := WorkloadInfo{ID: w.id, Name: w.name, Spec: w.spec}
		if s.c != nil && w.entryID != 0 {
			e := s.c.Entry(w.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		snap.Workloads = append(snap.Workloads, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]TriggerRecord(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
