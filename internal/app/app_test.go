package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aquarig/internal/config"
	"aquarig/internal/sched"
)

func writeAppConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppStartStop(t *testing.T) {
	dir := t.TempDir()
	cfg := `
log: { level: error, console: false }
engine: { workers: 2, queue_size: 8, check_interval: 50ms }
history: { driver: file, path: ` + filepath.Join(dir, "rigd.db") + ` }
api: { enabled: false }
sensor: { poll_interval: 1h, data_dir: ` + filepath.Join(dir, "sensor") + ` }
tasks:
  sensor:    { enabled: true, interval: 1h }
  heartbeat: { enabled: false }
  upload:    { enabled: false }
  cleanup:   { enabled: true, interval: 1h }
`
	a, err := New(writeAppConfig(t, cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Engine().Running() {
		t.Fatalf("engine not running")
	}

	snap := a.Engine().Snapshot()
	if snap.TotalTasks != 2 {
		t.Fatalf("got %d tasks, want sensor + cleanup", snap.TotalTasks)
	}
	if _, ok := snap.Tasks["sensor"]; !ok {
		t.Fatalf("sensor task missing: %v", snap.Tasks)
	}
	if _, ok := snap.Tasks["heartbeat"]; ok {
		t.Fatalf("disabled heartbeat task registered")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Stop(sctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Engine().Running() {
		t.Fatalf("engine still running after Stop")
	}
	// Stop is idempotent.
	if err := a.Stop(sctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := writeAppConfig(t, "engine: { check_interval: banana }")
	if _, err := New(path); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestMapEngineConfig(t *testing.T) {
	t.Parallel()
	zero := 0
	cfg := &config.Config{}
	cfg.Engine = config.EngineConfig{
		Workers:       4,
		CheckInterval: "250ms",
		MaxRetries:    &zero,
	}
	got, err := mapEngineConfig(cfg)
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	if got.Workers != 4 || got.CheckInterval != 250*time.Millisecond {
		t.Fatalf("got %+v", got)
	}
	if got.MaxRetries != 0 {
		t.Fatalf("explicit max_retries 0 was overridden: %d", got.MaxRetries)
	}
	def := sched.DefaultConfig()
	if got.QueueSize != def.QueueSize || got.RetryDelay != def.RetryDelay {
		t.Fatalf("omitted fields should take defaults: %+v", got)
	}

	// Omitted max_retries keeps the default.
	cfg.Engine.MaxRetries = nil
	got, err = mapEngineConfig(cfg)
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	if got.MaxRetries != def.MaxRetries {
		t.Fatalf("max_retries = %d, want default %d", got.MaxRetries, def.MaxRetries)
	}
}

func TestValidateConfigCatchesBadDurations(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Tasks.Heartbeat.Interval = "not-a-duration"
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}
