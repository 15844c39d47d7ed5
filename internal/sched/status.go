package sched

import "time"

// Status is a task's position in the run state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusDisabled  Status = "disabled"
)

// TaskInfo is a point-in-time copy of one task's scheduling state.
// Zero timestamps mean "never" / "not scheduled".
type TaskInfo struct {
	ID          string `json:"task_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Status  Status    `json:"status"`
	LastRun time.Time `json:"last_run"`
	NextRun time.Time `json:"next_run"`

	RunCount     int     `json:"run_count"`
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
	LastError    string  `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the aggregate engine view for diagnostics and the status API.
type Snapshot struct {
	Running      bool `json:"running"`
	TotalTasks   int  `json:"total_tasks"`
	RunningTasks int  `json:"running_tasks"`
	Workers      int  `json:"workers"`
	QueueLen     int  `json:"queue_len"`
	QueueCap     int  `json:"queue_cap"`

	Tasks map[string]TaskInfo `json:"tasks"`
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	RunID    string        `json:"run_id"`
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

const (
	EventDispatched = "task.dispatched"
	EventCompleted  = "task.completed"
	EventFailed     = "task.failed"
	EventStopped    = "task.stopped"
)
