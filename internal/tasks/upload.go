package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aquarig/internal/sensor"
	"aquarig/pkg/logx"
)

// Uploader sends one file to the farm cloud.
type Uploader interface {
	UploadFile(ctx context.Context, path, dataType string) error
}

// UploadDir pairs a directory of daily files with its server-side
// category and naming scheme.
type UploadDir struct {
	Dir      string
	DataType string
	// FileName produces the daily file name for a date.
	FileName func(t time.Time) string
}

// Upload pushes the last Days worth of daily files to the cloud.
// Per-file failures are folded into one error so a bad day never blocks
// the rest of the batch.
type Upload struct {
	uploader Uploader
	dirs     []UploadDir
	days     int
	log      logx.Logger
}

const defaultUploadDays = 61

func NewUpload(uploader Uploader, dirs []UploadDir, days int, log logx.Logger) *Upload {
	if log.IsZero() {
		log = logx.Nop()
	}
	if days <= 0 {
		days = defaultUploadDays
	}
	return &Upload{uploader: uploader, dirs: dirs, days: days, log: log}
}

// SensorUploadDir is the standard sensor CSV upload source.
func SensorUploadDir(dir string) UploadDir {
	return UploadDir{Dir: dir, DataType: "sensor_data", FileName: sensor.FileName}
}

func (t *Upload) ID() string   { return "upload" }
func (t *Upload) Name() string { return "daily file upload" }
func (t *Upload) Description() string {
	return "uploads recent daily data files to the farm cloud"
}

func (t *Upload) Execute(ctx context.Context) error {
	var errs []error
	sent := 0
	for _, d := range t.dirs {
		for i := 0; i < t.days; i++ {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				return errors.Join(errs...)
			}
			day := time.Now().AddDate(0, 0, -i)
			path := filepath.Join(d.Dir, d.FileName(day))
			if _, err := os.Stat(path); err != nil {
				continue // nothing recorded for that day
			}
			if err := t.uploader.UploadFile(ctx, path, d.DataType); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
				continue
			}
			sent++
		}
	}
	t.log.Debug("upload batch finished",
		logx.Int("sent", sent), logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}
