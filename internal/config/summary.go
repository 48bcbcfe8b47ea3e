package config

import (
	"strings"

	logx "driftnote/pkg/logx"
)

// Change describes what differs between two configs.
type Change struct {
	// Sections lists every changed top-level section.
	Sections []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	// Attrs are safe to log; the oracle API key is reduced to a set/unset flag.
	Attrs []logx.Field
}

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares oldCfg and newCfg.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	o, n := oldCfg.Logging, newCfg.Logging
	if o.Level != n.Level || o.Console != n.Console || o.File.Enabled != n.File.Enabled ||
		strings.TrimSpace(o.File.Path) != strings.TrimSpace(n.File.Path) {
		mark("logging", false,
			logx.String("logging.level", n.Level),
			logx.Bool("logging.console", n.Console),
			logx.Bool("logging.file_enabled", n.File.Enabled),
		)
	}

	od, nd := oldCfg.Drift, newCfg.Drift
	if strings.TrimSpace(od.Delay) != strings.TrimSpace(nd.Delay) {
		mark("drift", false, logx.String("drift.delay", nd.Delay))
	}
	if strings.TrimSpace(od.ShutdownGrace) != strings.TrimSpace(nd.ShutdownGrace) || od.RecheckView() != nd.RecheckView() {
		mark("drift.job", true,
			logx.String("drift.shutdown_grace", nd.ShutdownGrace),
			logx.Bool("drift.recheck_view_before_write", nd.RecheckView()),
		)
	}

	if oldCfg.Sweep != newCfg.Sweep {
		mark("sweep", false,
			logx.Bool("sweep.enabled", newCfg.Sweep.Enabled),
			logx.String("sweep.schedule", newCfg.Sweep.Schedule),
			logx.Int("sweep.sample", newCfg.Sweep.Sample),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	oo, no := oldCfg.Oracle, newCfg.Oracle
	if oo != no {
		mark("oracle", true,
			logx.String("oracle.provider", no.Provider),
			logx.String("oracle.model", no.Model),
			logx.Bool("oracle.api_key_set", strings.TrimSpace(no.APIKey) != ""),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics", true,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}
	return ch
}
