package tasks

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	"aquarig/pkg/logx"
)

// Watchdog pets the systemd watchdog so a hung process gets restarted
// by the service manager. Off systemd the notification is a no-op.
type Watchdog struct {
	log    logx.Logger
	notify func(state string) (bool, error) // test seam
}

func NewWatchdog(log logx.Logger) *Watchdog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watchdog{
		log: log,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

func (t *Watchdog) ID() string   { return "watchdog" }
func (t *Watchdog) Name() string { return "systemd watchdog" }
func (t *Watchdog) Description() string {
	return "sends the systemd watchdog keepalive"
}

func (t *Watchdog) Execute(ctx context.Context) error {
	_ = ctx
	sent, err := t.notify(daemon.SdNotifyWatchdog)
	if err != nil {
		return fmt.Errorf("sd_notify: %w", err)
	}
	if !sent {
		t.log.Trace("watchdog notify skipped (not under systemd)")
	}
	return nil
}
