package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	logx "driftnote/pkg/logx"
)

var (
	knownDrivers   = []string{"", "memory", "mem", "file", "sqlite", "sqlite3"}
	knownProviders = []string{"", "gemini", "passthrough"}
)

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if _, err := cfg.Durations(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Sweep.Sample < 0 {
		errs = append(errs, errors.New("sweep.sample must be >= 0"))
	}
	if spec := strings.TrimSpace(cfg.Sweep.Schedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("sweep.schedule: %w", err))
		}
	}

	if !oneOf(cfg.Storage.Driver, knownDrivers) {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for "+cfg.Storage.Driver))
		}
	}

	if !oneOf(cfg.Oracle.Provider, knownProviders) {
		errs = append(errs, fmt.Errorf("oracle.provider: unknown provider %q", cfg.Oracle.Provider))
	}
	if cfg.Oracle.RatePerSec < 0 {
		errs = append(errs, errors.New("oracle.rate_per_sec must be >= 0"))
	}
	if cfg.Oracle.Burst < 0 {
		errs = append(errs, errors.New("oracle.burst must be >= 0"))
	}

	if p := strings.TrimSpace(cfg.Metrics.Path); p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/': %q", p))
	}
	return errors.Join(errs...)
}

func oneOf(v string, set []string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
