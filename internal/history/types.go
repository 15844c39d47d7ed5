package history

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("history disabled")

// Config configures run/sample persistence.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunEntry records one finished task run.
// Keep it compact and schema-stable.
type RunEntry struct {
	RunID    string    `json:"run_id"`
	TaskID   string    `json:"task_id"`
	Name     string    `json:"name"`
	Started  time.Time `json:"started"`
	TookMS   int64     `json:"took_ms"`
	Attempts int       `json:"attempts"`
	Outcome  string    `json:"outcome"` // completed/failed/stopped
	Error    string    `json:"error,omitempty"`
}

// SampleEntry records one sensor reading.
type SampleEntry struct {
	At              time.Time `json:"at"`
	DissolvedOxygen float64   `json:"dissolved_oxygen"`
	LiquidLevel     float64   `json:"liquid_level"`
	PH              float64   `json:"ph"`
	PHTemp          float64   `json:"ph_temperature"`
	Turbidity       float64   `json:"turbidity"`
	TurbidityTemp   float64   `json:"turbidity_temperature"`
}
