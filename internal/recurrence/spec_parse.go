package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is the normalized form of a workload schedule string: the
// cron spec handed to the runner, plus the interval when the input
// named one. Intervals are folded into "@every" specs so the runner
// only ever sees cron syntax.
type Schedule struct {
	Spec     string
	Interval time.Duration
}

// IsInterval reports whether the schedule came from a fixed interval
// rather than a cron expression.
func (sc Schedule) IsInterval() bool { return sc.Interval > 0 }

// ParseSchedule normalizes a workload schedule string.
//
// Accepted forms:
//   - cron expressions: "*/5 * * * *", "@hourly", "@every 55m"
//   - durations: "55m", "2h30m"
//   - clock intervals: "02:30" (two and a half hours)
//
// A "cron:" prefix forces cron parsing; "every:" or "interval:" force
// interval parsing. Without a prefix, anything starting with '@' or
// containing whitespace is treated as cron.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errors.New("empty schedule")
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Schedule{}, errors.New("cron: prefix without an expression")
		}
		return Schedule{Spec: rest}, nil
	}
	for _, prefix := range []string{"every:", "interval:"} {
		if rest, ok := cutPrefixFold(s, prefix); ok {
			return intervalSchedule(strings.TrimSpace(rest))
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return Schedule{Spec: s}, nil
	}
	return intervalSchedule(s)
}

func intervalSchedule(s string) (Schedule, error) {
	d, err := parseInterval(s)
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{Spec: "@every " + d.String(), Interval: d}, nil
}

func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty interval")
	}
	if hh, mm, ok := strings.Cut(s, ":"); ok {
		return clockInterval(hh, mm)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("schedule %q: not a cron expression, HH:MM, or duration", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule %q: interval must be positive", s)
	}
	return d, nil
}

// clockInterval reads "HH:MM" as an amount of time, not a time of day:
// "02:30" fires every two and a half hours.
func clockInterval(hh, mm string) (time.Duration, error) {
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || len(mm) != 2 || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock interval %s:%s: want HH:MM with minutes 00-59", hh, mm)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	if d == 0 {
		return 0, errors.New("clock interval 00:00 never fires")
	}
	return d, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
