package sched

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Task is a unit of work executed by the engine.
//
// Execute may perform arbitrary I/O; side effects belong entirely to the
// implementation. The engine only cares about timing and the returned error.
// Execute must respect ctx cancellation if it wants removal/shutdown to be
// able to interrupt an in-flight run; the engine never force-kills work.
type Task interface {
	ID() string
	Name() string
	Description() string
	Execute(ctx context.Context) error
}

// Stopper is an optional capability for tasks that own external resources
// (background loops, sockets, file handles). The engine invokes it
// best-effort at shutdown and when the task is removed.
type Stopper interface {
	Stop(ctx context.Context) error
}

// FuncTask wraps a plain function as a Task.
type FuncTask struct {
	id   string
	name string
	desc string
	fn   func(ctx context.Context) error
}

func NewFunc(id, name, description string, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{id: id, name: name, desc: description, fn: fn}
}

func (t *FuncTask) ID() string          { return t.id }
func (t *FuncTask) Name() string        { return t.name }
func (t *FuncTask) Description() string { return t.desc }

func (t *FuncTask) Execute(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("task %s: no function bound", t.id)
	}
	return t.fn(ctx)
}

// ScriptTask runs an external command. A non-zero exit status is a task
// failure; the stderr tail is folded into the error so it lands in
// last_error for diagnosis.
type ScriptTask struct {
	id      string
	name    string
	desc    string
	path    string
	args    []string
	workDir string
	timeout time.Duration
}

func NewScript(id, name, description, path string, args []string, workDir string, timeout time.Duration) *ScriptTask {
	return &ScriptTask{
		id:      id,
		name:    name,
		desc:    description,
		path:    path,
		args:    args,
		workDir: workDir,
		timeout: timeout,
	}
}

func (t *ScriptTask) ID() string          { return t.id }
func (t *ScriptTask) Name() string        { return t.name }
func (t *ScriptTask) Description() string { return t.desc }

func (t *ScriptTask) Execute(ctx context.Context) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.path, t.args...)
	if t.workDir != "" {
		cmd.Dir = t.workDir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("script %s: %w", t.path, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("script %s: %w: %s", t.path, err, tail(msg, 512))
		}
		return fmt.Errorf("script %s: %w", t.path, err)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
