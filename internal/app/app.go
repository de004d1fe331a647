package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskpool/internal/config"
	"taskpool/internal/eventbus"
	"taskpool/internal/history"
	"taskpool/internal/pool"
	"taskpool/internal/progress"
	"taskpool/internal/recurrence"
	"taskpool/internal/runtime/supervisor"
	logx "taskpool/pkg/logx"
)

// App wires config, logging, the event bus, history persistence, the
// progress renderer and the recurrence service together.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus      eventbus.Bus
	store    history.Store
	recorder *history.Recorder
	renderer *progress.Renderer
	recur    *recurrence.Service

	poolCfg pool.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	poolCfg, err := mapPoolConfig(cfg.Pool)
	if err != nil {
		return nil, err
	}

	var (
		store history.Store
		rec   *history.Recorder
	)
	if cfg.History != nil {
		busyTimeout, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = history.Open(history.Config{
			Driver:      cfg.History.Driver,
			Path:        cfg.History.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			rec = history.NewRecorder(store, bus, log.With(logx.String("comp", "history")))
		}
	}

	mode, err := progress.ParseMode(cfg.Progress.Mode)
	if err != nil {
		return nil, err
	}
	var renderer *progress.Renderer
	if mode != progress.ModeNone {
		renderer = progress.New(progress.Config{
			Mode:      mode,
			MaxPerSec: cfg.Progress.MaxPerSec,
		}, bus, log.With(logx.String("comp", "progress")))
	}

	recur := recurrence.New(
		mapRecurrenceConfig(cfg),
		poolCfg,
		bus,
		log.With(logx.String("comp", "recurrence")),
	)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logs,
		bus:      bus,
		store:    store,
		recorder: rec,
		renderer: renderer,
		recur:    recur,
		poolCfg:  poolCfg,
	}, nil
}

// NewPool returns a pool wired to the app's bus with the configured
// settings. Each call gives an independent queue.
func (a *App) NewPool() *pool.Pool {
	return pool.New(a.poolCfg, a.log.With(logx.String("comp", "pool")), a.bus)
}

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Store() history.Store { return a.store }

func (a *App) Recurrence() *recurrence.Service { return a.recur }

func (a *App) PoolConfig() pool.Config { return a.poolCfg }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if a.recorder != nil {
		a.sup.Go("history.record", a.recorder.Run)
	}
	if a.renderer != nil {
		a.sup.Go("progress.render", a.renderer.Run)
	}
	if a.recur.Enabled() {
		a.recur.Start(a.sup.Context())
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifyReady(a.log)
	a.log.Info("app started")
	return nil
}

// reloadLoop applies published config updates to the running services.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logging.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		DRAIN:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break DRAIN
				}
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			lastApplied = newCfg

			// apply logging updates
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			// apply pool settings for future triggers
			if poolCfg, err := mapPoolConfig(newCfg.Pool); err == nil {
				a.poolCfg = poolCfg
				a.recur.ApplyPool(poolCfg)
			} else {
				a.log.Warn("invalid pool config in reload; keeping previous", logx.Err(err))
			}

			// apply recurrence updates (live)
			prevEnabled := a.recur.Enabled()
			a.recur.Apply(mapRecurrenceConfig(newCfg))
			if prevEnabled && !newCfg.Recurrence.Enabled {
				a.log.Info("recurrence disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.recur.Stop(stopCtx)
				cancel()
			} else if !prevEnabled && newCfg.Recurrence.Enabled {
				a.log.Info("recurrence enabled via config")
				a.recur.Start(ctx)
			}

			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	notifyStopping(a.log)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("recurrence", 3*time.Second, func(c context.Context) error { a.recur.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	if a.store != nil {
		step("history", time.Second, func(c context.Context) error { return a.store.Close() })
	}
	_ = a.logs.Close()

	a.log.Info("stopped")
	return nil
}

// mapPoolConfig resolves the config section into pool settings,
// filling worker and tick defaults.
func mapPoolConfig(pc config.PoolConfig) (pool.Config, error) {
	workers := pc.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers()
	}
	tick, err := config.ParseDurationOrDefault("pool.tick_interval", pc.TickInterval, pool.DefaultTickInterval)
	if err != nil {
		return pool.Config{}, err
	}
	return pool.Config{Concurrency: workers, TickInterval: tick}, nil
}

func mapRecurrenceConfig(cfg *config.Config) recurrence.Config {
	return recurrence.Config{
		Enabled:        cfg.Recurrence.Enabled,
		Timezone:       cfg.Recurrence.Timezone,
		HistorySize:    cfg.Recurrence.HistorySize,
		Rebatch:        cfg.Pool.Rebatch,
		RebatchDivisor: cfg.Pool.RebatchDivisor,
	}
}

// validate rejects configs that would break a hot reload.
func validate(cfg *config.Config) error {
	if cfg.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be >= 0")
	}
	if cfg.Pool.RebatchDivisor < 0 {
		return fmt.Errorf("pool.rebatch_divisor must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Pool.Rebatch)) {
	case "", "static", "dynamic":
	default:
		return fmt.Errorf("pool.rebatch: unknown mode %q", cfg.Pool.Rebatch)
	}
	if _, err := config.ParseDurationField("pool.tick_interval", cfg.Pool.TickInterval); err != nil {
		return err
	}
	if cfg.History != nil {
		if _, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout); err != nil {
			return err
		}
	}
	if _, err := progress.ParseMode(cfg.Progress.Mode); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Recurrence.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("recurrence.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
