// Package tasks holds the built-in tasks the rig schedules: sensor
// supervision, cloud heartbeat, daily-file upload, feeder status,
// retention cleanup, and the systemd watchdog keepalive.
package tasks

import (
	"context"
	"fmt"
	"time"

	"aquarig/pkg/logx"
)

// SensorService is the part of the sensor service the task needs.
type SensorService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Fresh(maxAge time.Duration) bool
	LastError() error
}

// Sensor keeps the sensor service alive and verifies it still produces
// readings. It implements the engine's Stopper so shutdown also stops
// the polling loop.
type Sensor struct {
	svc    SensorService
	maxAge time.Duration
	log    logx.Logger
}

func NewSensor(svc SensorService, maxAge time.Duration, log logx.Logger) *Sensor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	return &Sensor{svc: svc, maxAge: maxAge, log: log}
}

func (t *Sensor) ID() string   { return "sensor" }
func (t *Sensor) Name() string { return "sensor supervision" }
func (t *Sensor) Description() string {
	return "keeps the probe polling service running and its readings fresh"
}

func (t *Sensor) Execute(ctx context.Context) error {
	if !t.svc.Running() {
		t.log.Warn("sensor service not running; restarting")
		if err := t.svc.Start(ctx); err != nil {
			return fmt.Errorf("restart sensor service: %w", err)
		}
		// freshly started: give it until the next check to produce data
		return nil
	}
	if !t.svc.Fresh(t.maxAge) {
		if err := t.svc.LastError(); err != nil {
			return fmt.Errorf("sensor readings stale (last error: %w)", err)
		}
		return fmt.Errorf("sensor readings older than %s", t.maxAge)
	}
	return nil
}

func (t *Sensor) Stop(ctx context.Context) error {
	return t.svc.Stop(ctx)
}
