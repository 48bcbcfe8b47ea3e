package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses raw as a non-negative duration. Empty input is 0.
// path names the config key in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Durations holds the parsed duration fields of a Config. Zero means the
// owning component applies its own default.
type Durations struct {
	DriftDelay    time.Duration
	ShutdownGrace time.Duration
	BusyTimeout   time.Duration
	OracleTimeout time.Duration
}

// Durations parses every duration string in c.
func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.DriftDelay, err = ParseDurationField("drift.delay", c.Drift.Delay); err != nil {
		return Durations{}, err
	}
	if d.ShutdownGrace, err = ParseDurationField("drift.shutdown_grace", c.Drift.ShutdownGrace); err != nil {
		return Durations{}, err
	}
	if d.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return Durations{}, err
	}
	if d.OracleTimeout, err = ParseDurationField("oracle.timeout", c.Oracle.Timeout); err != nil {
		return Durations{}, err
	}
	return d, nil
}
