package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskpool/internal/app"
	"taskpool/internal/pool"
)

func main() {
	var (
		cfgPath  = flag.String("config", "./config.yaml", "path to config file (yaml or json)")
		units    = flag.Int("units", 0, "run a one-shot batch of N sleep units and exit")
		sleep    = flag.Duration("sleep", 100*time.Millisecond, "per-unit work duration for -units")
		rebatch  = flag.String("rebatch", "", "rebatch mode for the one-shot batch: static or dynamic")
		divisor  = flag.Int("divisor", 2, "divisor for -rebatch dynamic")
		schedule = flag.String("schedule", "", "run the batch on this schedule instead of once (cron, duration or HH:MM)")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	build := func() []*pool.Unit {
		out := make([]*pool.Unit, *units)
		for i := range out {
			out[i] = pool.NewUnit(fmt.Sprintf("sleep-%d", i), func(ctx context.Context, u *pool.Unit) int {
				select {
				case <-time.After(*sleep):
					return 0
				case <-ctx.Done():
					return 1
				}
			})
		}
		return out
	}

	switch {
	case *units > 0 && *schedule == "":
		code := runOnce(ctx, a, build(), *rebatch, *divisor)
		_ = a.Stop(context.Background())
		os.Exit(code)

	case *units > 0:
		if _, err := a.Recurrence().AddWorkload("batch", *schedule, build); err != nil {
			fmt.Println("fatal schedule:", err)
			_ = a.Stop(context.Background())
			os.Exit(1)
		}
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
	if err := a.Err(); err != nil {
		fmt.Println("exited with error:", err)
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, a *app.App, units []*pool.Unit, rebatch string, divisor int) int {
	p := a.NewPool()
	if err := p.SubmitAll(units...); err != nil {
		fmt.Println("submit:", err)
		return 1
	}
	var err error
	switch rebatch {
	case "":
	case "static":
		err = p.RebatchStatic()
	case "dynamic":
		err = p.RebatchDynamic(divisor)
	default:
		fmt.Println("unknown -rebatch mode:", rebatch)
		return 2
	}
	if err != nil {
		fmt.Println("rebatch:", err)
		return 1
	}

	start := time.Now()
	if err := p.Run(ctx); err != nil {
		fmt.Println("run:", err)
		return 1
	}

	failed := 0
	for _, u := range p.Finished() {
		if u.Code() != 0 {
			failed++
		}
	}
	fmt.Printf("done: %d units in %s (%d failed)\n", len(p.Finished()), time.Since(start).Round(time.Millisecond), failed)
	if failed > 0 {
		return 1
	}
	return 0
}
