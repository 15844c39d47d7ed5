package app

import (
	"fmt"
	"time"

	"aquarig/internal/cloud"
	"aquarig/internal/config"
	"aquarig/internal/history"
	"aquarig/internal/observability/pprof"
	"aquarig/internal/sched"
	"aquarig/internal/sensor"
	"aquarig/pkg/logx"
)

// Mapping from file config to component configs. These also run inside
// the hot-reload validator so a bad edit never reaches a component.

func mapLogConfig(cfg *config.Config) logx.Config {
	console := true
	if cfg.Log.Console != nil {
		console = *cfg.Log.Console
	}
	return logx.Config{
		Level:   cfg.Log.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Log.File.Enabled,
			Path:    cfg.Log.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (sched.Config, error) {
	out := sched.DefaultConfig()
	ec := cfg.Engine
	if ec.Workers < 0 || ec.QueueSize < 0 {
		return out, fmt.Errorf("engine.workers and engine.queue_size must be >= 0")
	}
	if ec.Workers > 0 {
		out.Workers = ec.Workers
	}
	if ec.QueueSize > 0 {
		out.QueueSize = ec.QueueSize
	}
	var err error
	if out.CheckInterval, err = config.ParseDurationOrDefault("engine.check_interval", ec.CheckInterval, out.CheckInterval); err != nil {
		return out, err
	}
	if out.RetryDelay, err = config.ParseDurationOrDefault("engine.retry_delay", ec.RetryDelay, out.RetryDelay); err != nil {
		return out, err
	}
	if out.StopTimeout, err = config.ParseDurationOrDefault("engine.stop_timeout", ec.StopTimeout, out.StopTimeout); err != nil {
		return out, err
	}
	// An explicit 0 means "no retries"; only an omitted key keeps the default.
	if ec.MaxRetries != nil {
		if *ec.MaxRetries < 0 {
			return out, fmt.Errorf("engine.max_retries must be >= 0")
		}
		out.MaxRetries = *ec.MaxRetries
	}
	return out, nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, error) {
	busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Driver:      cfg.History.Driver,
		Path:        cfg.History.Path,
		BusyTimeout: busy,
	}, nil
}

func mapCloudConfig(cfg *config.Config) (cloud.Config, error) {
	timeout, err := config.ParseDurationField("cloud.timeout", cfg.Cloud.Timeout)
	if err != nil {
		return cloud.Config{}, err
	}
	if cfg.Cloud.RatePerSec < 0 {
		return cloud.Config{}, fmt.Errorf("cloud.rate_per_sec must be >= 0")
	}
	return cloud.Config{
		BaseURL:    cfg.Cloud.BaseURL,
		FeederURL:  cfg.Cloud.FeederURL,
		UserID:     cfg.Cloud.UserID,
		Password:   cfg.Cloud.Password,
		Timeout:    timeout,
		RatePerSec: cfg.Cloud.RatePerSec,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}

func mapSensorConfig(cfg *config.Config) (sensor.Config, error) {
	poll, err := config.ParseDurationField("sensor.poll_interval", cfg.Sensor.PollInterval)
	if err != nil {
		return sensor.Config{}, err
	}
	return sensor.Config{
		PollInterval: poll,
		DataDir:      cfg.Sensor.DataDir,
	}, nil
}

// taskInterval resolves a task's interval string against its default.
func taskInterval(name string, tc config.TaskConfig, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault("tasks."+name+".interval", tc.Interval, def)
}

// validateConfig is the hot-reload gate: every mapping must parse.
func validateConfig(cfg *config.Config) error {
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHistoryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCloudConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSensorConfig(cfg); err != nil {
		return err
	}
	for name, tc := range map[string]config.TaskConfig{
		"sensor":        cfg.Tasks.Sensor,
		"heartbeat":     cfg.Tasks.Heartbeat,
		"upload":        cfg.Tasks.Upload.TaskConfig,
		"feeder_status": cfg.Tasks.FeederStatus.TaskConfig,
		"feed":          cfg.Tasks.Feed.TaskConfig,
		"cleanup":       cfg.Tasks.Cleanup.TaskConfig,
	} {
		if _, err := config.ParseDurationField("tasks."+name+".interval", tc.Interval); err != nil {
			return err
		}
	}
	return nil
}
