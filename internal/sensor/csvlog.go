package sensor

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// csvLog appends samples to one CSV file per day
// (sensor_YYYY_MM_DD.csv). A header row is written when the file is
// created; rollover happens on the first append of a new day.
type csvLog struct {
	dir string

	day  string
	file *os.File
	w    *csv.Writer
}

var csvHeader = []string{
	"at", "dissolved_oxygen", "liquid_level",
	"ph", "ph_temperature", "turbidity", "turbidity_temperature",
}

func newCSVLog(dir string) *csvLog {
	return &csvLog{dir: dir}
}

// FileName returns the daily file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("sensor_%s.csv", t.Format("2006_01_02"))
}

func (l *csvLog) append(s Sample) error {
	day := s.At.Format("2006_01_02")
	if l.file == nil || day != l.day {
		if err := l.roll(s.At, day); err != nil {
			return err
		}
	}
	f := func(v float64, prec int) string {
		return strconv.FormatFloat(v, 'f', prec, 64)
	}
	err := l.w.Write([]string{
		s.At.Format(time.RFC3339),
		f(s.DissolvedOxygen, 3),
		f(s.LiquidLevel, 0),
		f(s.PH, 2),
		f(s.PHTemp, 1),
		f(s.Turbidity, 1),
		f(s.TurbidityTemp, 1),
	})
	if err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *csvLog) roll(at time.Time, day string) error {
	if l.file != nil {
		l.w.Flush()
		_ = l.file.Close()
		l.file = nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.dir, FileName(at))
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = csv.NewWriter(f)
	l.day = day
	if fresh {
		if err := l.w.Write(csvHeader); err != nil {
			return err
		}
		l.w.Flush()
	}
	return l.w.Error()
}

func (l *csvLog) close() error {
	if l.file == nil {
		return nil
	}
	l.w.Flush()
	err := l.file.Close()
	l.file = nil
	return err
}
