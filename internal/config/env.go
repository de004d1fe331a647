package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// DefaultWorkers resolves the worker count when pool.workers is omitted:
// TASKPOOL_WORKERS if set to a positive integer, else runtime.NumCPU().
func DefaultWorkers() int {
	if raw := strings.TrimSpace(os.Getenv("TASKPOOL_WORKERS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
