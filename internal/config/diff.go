package config

import (
	"sort"
	"strings"

	logx "taskpool/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Used by the app's reload loop so a
// hot reload is traceable without dumping the whole config.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Pool (executor)
	if oldCfg.Pool != newCfg.Pool {
		changed = append(changed, "pool")
		attrs = append(attrs,
			logx.Int("pool.workers", newCfg.Pool.Workers),
			logx.String("pool.tick_interval", strings.TrimSpace(newCfg.Pool.TickInterval)),
			logx.String("pool.rebatch", strings.TrimSpace(newCfg.Pool.Rebatch)),
			logx.Int("pool.rebatch_divisor", newCfg.Pool.RebatchDivisor),
		)
	}

	// History (persistence). Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.History != nil {
		oDriver = strings.TrimSpace(oldCfg.History.Driver)
		oBusy = strings.TrimSpace(oldCfg.History.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.History.Path) != ""
	}
	if newCfg.History != nil {
		nDriver = strings.TrimSpace(newCfg.History.Driver)
		nBusy = strings.TrimSpace(newCfg.History.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.History.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.String("history.driver", nDriver),
			logx.Bool("history.path_set", nPathSet),
			logx.String("history.busy_timeout", nBusy),
		)
	}

	// Progress renderer
	if oldCfg.Progress != newCfg.Progress {
		changed = append(changed, "progress")
		attrs = append(attrs,
			logx.String("progress.mode", strings.TrimSpace(newCfg.Progress.Mode)),
			logx.Int("progress.max_per_sec", newCfg.Progress.MaxPerSec),
		)
	}

	// Recurrence (triggers)
	if oldCfg.Recurrence != newCfg.Recurrence {
		changed = append(changed, "recurrence")
		attrs = append(attrs,
			logx.Bool("recurrence.enabled", newCfg.Recurrence.Enabled),
			logx.String("recurrence.timezone", strings.TrimSpace(newCfg.Recurrence.Timezone)),
			logx.Int("recurrence.history_size", newCfg.Recurrence.HistorySize),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
