// Package recurrence triggers pool runs on cron or interval schedules.
//
// A workload is a named builder that produces fresh units for every
// trigger. Each trigger runs in its own pool so workload runs never
// share queue state; overlapping triggers of the same workload are
// skipped while the previous run is still going.
//
// Schedule strings accept cron expressions ("*/5 * * * *", "@hourly"),
// Go durations ("55m") and HH:MM intervals ("02:30").
package recurrence
