package tasks

import (
	"context"
	"time"

	"aquarig/internal/sensor"
)

// HeartbeatSender posts a status document to the farm cloud.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, payload any) error
}

// SampleSource exposes the latest probe reading.
type SampleSource interface {
	Latest() (sensor.Sample, bool)
}

// Heartbeat tells the cloud the rig is alive, attaching the latest
// reading when one exists.
type Heartbeat struct {
	rigID   string
	sender  HeartbeatSender
	samples SampleSource // may be nil
}

func NewHeartbeat(rigID string, sender HeartbeatSender, samples SampleSource) *Heartbeat {
	return &Heartbeat{rigID: rigID, sender: sender, samples: samples}
}

func (t *Heartbeat) ID() string   { return "heartbeat" }
func (t *Heartbeat) Name() string { return "cloud heartbeat" }
func (t *Heartbeat) Description() string {
	return "reports liveness and the latest reading to the farm cloud"
}

func (t *Heartbeat) Execute(ctx context.Context) error {
	payload := map[string]any{
		"rig": t.rigID,
		"at":  time.Now().Format(time.RFC3339),
	}
	if t.samples != nil {
		if s, ok := t.samples.Latest(); ok {
			payload["sample"] = s
		}
	}
	return t.sender.Heartbeat(ctx, payload)
}
