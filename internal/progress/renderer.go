package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"taskpool/internal/eventbus"
	"taskpool/internal/pool"
	logx "taskpool/pkg/logx"
)

// Mode selects how run progress is rendered.
type Mode int

const (
	// ModeNone disables rendering.
	ModeNone Mode = iota
	// ModeDiscrete prints one line per 10% milestone.
	ModeDiscrete
	// ModeContinuous redraws a bar in place, throttled by MaxPerSec.
	ModeContinuous
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return ModeNone, nil
	case "discrete":
		return ModeDiscrete, nil
	case "continuous", "bar":
		return ModeContinuous, nil
	default:
		return ModeNone, fmt.Errorf("unknown progress mode: %q", s)
	}
}

const (
	barWidth         = 40
	defaultMaxPerSec = 10
)

// Config configures the renderer.
type Config struct {
	Mode Mode

	// MaxPerSec caps continuous redraws. 0 means the default (10).
	MaxPerSec int

	// Out receives the rendered output. Nil means os.Stdout.
	Out io.Writer
}

// Renderer consumes pool events from the bus and draws run progress.
// The bar shows finished units as '=', active units as '-' and the
// remainder as spaces, followed by the three percentages the pool
// reports.
type Renderer struct {
	mode    Mode
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus

	mu        sync.Mutex
	out       io.Writer
	milestone int  // last printed 10% step (discrete)
	drew      bool // a continuous bar is on the current line
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Renderer {
	if log.IsZero() {
		log = logx.Nop()
	}
	out := cfg.Out
	if out == nil {
		out = logx.Stdout()
	}
	perSec := cfg.MaxPerSec
	if perSec <= 0 {
		perSec = defaultMaxPerSec
	}
	return &Renderer{
		mode:    cfg.Mode,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		log:     log,
		bus:     bus,
		out:     out,
	}
}

// Run consumes events until ctx is done. Intended to run under the
// supervisor; returns nil on normal shutdown.
func (r *Renderer) Run(ctx context.Context) error {
	if r.mode == ModeNone || r.bus == nil {
		return nil
	}
	events, cancel := r.bus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Renderer) handle(ev eventbus.Event) {
	switch ev.Type {
	case pool.EventRunStarted:
		r.mu.Lock()
		r.milestone = 0
		r.drew = false
		r.mu.Unlock()
	case pool.EventProgress:
		pr, ok := ev.Data.(pool.Progress)
		if !ok {
			return
		}
		r.draw(pr, false)
	case pool.EventRunFinished:
		re, ok := ev.Data.(pool.RunEvent)
		if !ok {
			return
		}
		r.finish(re)
	}
}

func (r *Renderer) draw(pr pool.Progress, final bool) {
	switch r.mode {
	case ModeDiscrete:
		step := int(pr.PercentFinished) / 10
		r.mu.Lock()
		defer r.mu.Unlock()
		if step <= r.milestone && !final {
			return
		}
		// One milestone per event: a jump over several steps catches
		// up across the following events instead of collapsing into
		// one line.
		if r.milestone < step {
			r.milestone++
		}
		fmt.Fprintf(r.out, "%3.0f%% finished (%d/%d), %d active\n",
			pr.PercentFinished, pr.Finished, pr.Total, pr.Active)

	case ModeContinuous:
		if !final && !r.limiter.Allow() {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		fmt.Fprintf(r.out, "\r[%s] %5.1f%% finished | %5.1f%% active | %5.1f%% load (%d/%d)",
			bar(pr), pr.PercentFinished, pr.PercentActive, pr.PercentLoad,
			pr.Finished, pr.Total)
		r.drew = true
	}
}

func (r *Renderer) finish(re pool.RunEvent) {
	full := pool.Progress{
		Total:           re.Total,
		Finished:        re.Finished,
		PercentFinished: 100,
	}
	if re.Total > 0 {
		full.PercentFinished = float64(re.Finished) / float64(re.Total) * 100
	}
	r.draw(full, true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drew {
		fmt.Fprintln(r.out)
		r.drew = false
	}
	fmt.Fprintf(r.out, "run finished: %d/%d units in %s\n", re.Finished, re.Total, re.Duration)
}

// bar renders finished units as '=', active as '-', the rest as spaces.
func bar(pr pool.Progress) string {
	eq := int(pr.PercentFinished / 100 * barWidth)
	if eq > barWidth {
		eq = barWidth
	}
	dash := int(pr.PercentActive / 100 * barWidth)
	if eq+dash > barWidth {
		dash = barWidth - eq
	}
	var b strings.Builder
	b.Grow(barWidth)
	b.WriteString(strings.Repeat("=", eq))
	b.WriteString(strings.Repeat("-", dash))
	b.WriteString(strings.Repeat(" ", barWidth-eq-dash))
	return b.String()
}
