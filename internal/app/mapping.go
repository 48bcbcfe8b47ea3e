package app

import (
	"driftnote/internal/config"
	"driftnote/internal/drift"
	"driftnote/internal/metrics"
	"driftnote/internal/oracle"
	"driftnote/internal/storage"
	"driftnote/internal/sweep"
	logx "driftnote/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDrift(cfg *config.Config) (drift.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return drift.Config{}, err
	}
	return drift.Config{
		Delay:            d.DriftDelay,
		ShutdownGrace:    d.ShutdownGrace,
		WriteWhileViewed: !cfg.Drift.RecheckView(),
	}, nil
}

func mapSweep(cfg *config.Config) sweep.Config {
	return sweep.Config{
		Enabled:  cfg.Sweep.Enabled,
		Schedule: cfg.Sweep.Schedule,
		Sample:   cfg.Sweep.Sample,
	}
}

// MapStorage converts the storage section; the CLI opens the store with it too.
func MapStorage(cfg *config.Config) (storage.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: d.BusyTimeout,
	}, nil
}

func mapOracle(cfg *config.Config) (oracle.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return oracle.Config{}, err
	}
	o := cfg.Oracle
	return oracle.Config{
		Provider:   o.Provider,
		APIKey:     o.APIKey,
		APIKeyEnv:  o.APIKeyEnv,
		Model:      o.Model,
		Endpoint:   o.Endpoint,
		Timeout:    d.OracleTimeout,
		RatePerSec: o.RatePerSec,
		Burst:      o.Burst,
	}, nil
}

func mapMetrics(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{Addr: cfg.Metrics.Addr, Path: cfg.Metrics.Path, Pprof: cfg.Metrics.Pprof}
}
