package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// entry pairs a task with its rule and the canonical mutable run state.
// The registry exclusively owns this state; callers only ever see copies.
type entry struct {
	task Task
	rule Rule
	info TaskInfo

	// cancel aborts the in-flight run's context, if any. Cancellation is
	// cooperative: it only helps if Execute observes its ctx.
	cancel context.CancelFunc
}

type registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: map[string]*entry{}}
}

func (r *registry) add(task Task, rule Rule) error {
	if task == nil {
		return errors.New("task required")
	}
	if rule == nil {
		return fmt.Errorf("%w: rule required", ErrInvalidRule)
	}
	id := task.ID()
	if id == "" {
		return errors.New("task id required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}

	now := time.Now()
	e := &entry{task: task, rule: rule}
	e.info = TaskInfo{
		ID:          id,
		Name:        task.Name(),
		Description: task.Description(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if next, ok := rule.Next(time.Time{}); ok {
		e.info.NextRun = next
	}
	r.entries[id] = e
	return nil
}

// remove cancels any in-flight run and deletes the entry. The returned task
// lets the engine invoke an optional stop hook outside the registry lock.
func (r *registry) remove(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	delete(r.entries, id)
	return e.task, nil
}

func (r *registry) setEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	now := time.Now()
	if enabled {
		if e.info.Status == StatusDisabled {
			e.info.Status = StatusPending
			e.info.UpdatedAt = now
		}
		return nil
	}
	// Disabling while a run is in flight is allowed; the result writer
	// preserves Disabled so the finished run cannot resurrect the task.
	e.info.Status = StatusDisabled
	e.info.UpdatedAt = now
	return nil
}

func (r *registry) snapshot(id string) (TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return TaskInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyInfo(e.info), nil
}

func (r *registry) snapshotAll() (tasks map[string]TaskInfo, running int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks = make(map[string]TaskInfo, len(r.entries))
	for id, e := range r.entries {
		if e.info.Status == StatusRunning {
			running++
		}
		tasks[id] = copyInfo(e.info)
	}
	return tasks, running
}

// stoppers returns every registered task that exposes a stop hook.
func (r *registry) stoppers() []Stopper {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stopper
	for _, e := range r.entries {
		if s, ok := e.task.(Stopper); ok {
			out = append(out, s)
		}
	}
	return out
}

// markAllStopped flips every still-Running entry to Stopped and drops its
// in-flight handle. Called once at shutdown, after the workers have exited.
func (r *registry) markAllStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, e := range r.entries {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		if e.info.Status == StatusRunning {
			e.info.Status = StatusStopped
			e.info.UpdatedAt = now
		}
	}
}

func copyInfo(info TaskInfo) TaskInfo {
	cp := info
	runs := cp.RunCount
	if runs < 1 {
		runs = 1
	}
	cp.SuccessRate = float64(cp.SuccessCount) / float64(runs)
	return cp
}
