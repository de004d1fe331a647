package recurrence

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		spec     string
		interval time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", spec: "*/5 * * * *"},
		{name: "descriptor", raw: "@hourly", spec: "@hourly"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", spec: "0 0 * * *"},
		{name: "duration", raw: "10m", spec: "@every 10m0s", interval: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", spec: "@every 45s", interval: 45 * time.Second},
		{name: "every prefix clock", raw: "every:02:30", spec: "@every 2h30m0s", interval: 150 * time.Minute},
		{name: "clock", raw: "01:30", spec: "@every 1h30m0s", interval: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Spec != tt.spec {
				t.Fatalf("Spec = %q, want %q", got.Spec, tt.spec)
			}
			if got.Interval != tt.interval {
				t.Fatalf("Interval = %v, want %v", got.Interval, tt.interval)
			}
			if got.IsInterval() != (tt.interval > 0) {
				t.Fatalf("IsInterval() = %v for %q", got.IsInterval(), tt.raw)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:", "-5m", "00:00", "1:5", "02:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) accepted", raw)
		}
	}
}
