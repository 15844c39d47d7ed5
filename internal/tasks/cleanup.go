package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aquarig/pkg/logx"
)

// Cleanup deletes data and log files older than the retention window.
// Only regular files directly inside the configured directories are
// considered; subdirectories are left alone.
type Cleanup struct {
	dirs          []string
	retentionDays int
	log           logx.Logger

	now func() time.Time // test seam
}

const defaultRetentionDays = 7

func NewCleanup(dirs []string, retentionDays int, log logx.Logger) *Cleanup {
	if log.IsZero() {
		log = logx.Nop()
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return &Cleanup{dirs: dirs, retentionDays: retentionDays, log: log, now: time.Now}
}

func (t *Cleanup) ID() string   { return "cleanup" }
func (t *Cleanup) Name() string { return "retention cleanup" }
func (t *Cleanup) Description() string {
	return "deletes data and log files past the retention window"
}

func (t *Cleanup) Execute(ctx context.Context) error {
	cutoff := t.now().AddDate(0, 0, -t.retentionDays)
	var errs []error
	removed := 0

	for _, dir := range t.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		for _, ent := range entries {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				return errors.Join(errs...)
			}
			if ent.IsDir() {
				continue
			}
			info, err := ent.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, ent.Name())
			if err := os.Remove(path); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", ent.Name(), err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		t.log.Info("retention cleanup removed files",
			logx.Int("removed", removed), logx.Int("retention_days", t.retentionDays))
	}
	return errors.Join(errs...)
}
