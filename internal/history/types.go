package history

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("history disabled")

// Config configures history persistence.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord captures the outcome of one executed unit.
// Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time `json:"at"`
	Seq      int64     `json:"seq"`
	Name     string    `json:"name"`
	Code     int       `json:"code"`
	TookMS   int64     `json:"took_ms"`
	Skipped  bool      `json:"skipped,omitempty"`
	BreakReq bool      `json:"break,omitempty"`
	Panic    string    `json:"panic,omitempty"`
}
