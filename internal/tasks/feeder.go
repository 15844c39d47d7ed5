package tasks

import (
	"context"
	"fmt"
	"time"

	"aquarig/internal/cloud"
	"aquarig/pkg/logx"
)

// FeederClient is the part of the cloud client the feeder task needs.
// The gateway client logs in on demand, so the task never handles
// credentials itself.
type FeederClient interface {
	FindDevice(ctx context.Context, name string) (cloud.Device, error)
	DeviceStatus(ctx context.Context, devID string) (cloud.DeviceStatus, error)
	Heartbeat(ctx context.Context, payload any) error
}

// FeederStatus resolves the feeder by name, queries its live status,
// and reports the result to the farm cloud.
type FeederStatus struct {
	client     FeederClient
	deviceName string
	log        logx.Logger
}

func NewFeederStatus(client FeederClient, deviceName string, log logx.Logger) *FeederStatus {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deviceName == "" {
		deviceName = "AI"
	}
	return &FeederStatus{client: client, deviceName: deviceName, log: log}
}

func (t *FeederStatus) ID() string   { return "feeder_status" }
func (t *FeederStatus) Name() string { return "feeder status check" }
func (t *FeederStatus) Description() string {
	return "queries the auto-feeder gateway and reports device status"
}

func (t *FeederStatus) Execute(ctx context.Context) error {
	dev, err := t.client.FindDevice(ctx, t.deviceName)
	if err != nil {
		return fmt.Errorf("resolve feeder %q: %w", t.deviceName, err)
	}
	status, err := t.client.DeviceStatus(ctx, dev.DevID)
	if err != nil {
		return fmt.Errorf("feeder %s status: %w", dev.DevID, err)
	}
	t.log.Debug("feeder status fetched",
		logx.String("device", dev.DevName), logx.Any("status", status))

	payload := map[string]any{
		"device_id":   dev.DevID,
		"device_name": dev.DevName,
		"status":      status,
		"timestamp":   time.Now().Format(time.RFC3339),
	}
	if err := t.client.Heartbeat(ctx, payload); err != nil {
		return fmt.Errorf("report feeder status: %w", err)
	}
	return nil
}
