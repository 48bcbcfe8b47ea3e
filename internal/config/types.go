package config

// Config is the daemon configuration, read from JSON or YAML.
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Omitted or zero
// values fall back to the defaults noted on each field.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Drift   DriftConfig   `json:"drift"`
	Sweep   SweepConfig   `json:"sweep"`
	Storage StorageConfig `json:"storage"`
	Oracle  OracleConfig  `json:"oracle"`
	Metrics MetricsConfig `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DriftConfig tunes the deferred mutation scheduler.
//
// Defaults:
//   - delay: "60s"
//   - shutdown_grace: "5s"
//   - recheck_view_before_write: true
type DriftConfig struct {
	Delay         string `json:"delay,omitempty"`
	ShutdownGrace string `json:"shutdown_grace,omitempty"`

	// RecheckViewBeforeWrite is a pointer so an omitted key keeps the default
	// (true) while an explicit false is honoured.
	RecheckViewBeforeWrite *bool `json:"recheck_view_before_write,omitempty"`
}

// RecheckView reports the effective recheck_view_before_write value.
func (d DriftConfig) RecheckView() bool {
	return d.RecheckViewBeforeWrite == nil || *d.RecheckViewBeforeWrite
}

// SweepConfig controls the periodic idle-entry sampler.
//
// Schedule accepts standard 5-field cron specs and descriptors such as
// "@every 10m" or "@hourly". Defaults: schedule "@every 10m", sample 5.
type SweepConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Sample   int    `json:"sample,omitempty"`
}

// StorageConfig selects the entry/preference backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/driftnote.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// OracleConfig configures the mutation oracle.
//
// The API key is never logged. When api_key is empty the variable named by
// api_key_env (default GEMINI_API_KEY) is consulted.
type OracleConfig struct {
	Provider   string  `json:"provider,omitempty"` // gemini | passthrough
	APIKey     string  `json:"api_key,omitempty"`
	APIKeyEnv  string  `json:"api_key_env,omitempty"`
	Model      string  `json:"model,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Prefer a loopback address (default "127.0.0.1:9464").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path,omitempty"` // default: "/metrics"
	// Pprof also serves /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
