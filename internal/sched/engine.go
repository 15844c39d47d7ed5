package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquarig/internal/eventbus"
	rtsup "aquarig/internal/runtime/supervisor"
	logx "aquarig/pkg/logx"
)

// Config controls the execution engine.
//
// Zero values for Workers, QueueSize, CheckInterval and StopTimeout are
// normalized to sane minimums; MaxRetries and RetryDelay are honored as
// given (a zero MaxRetries really means "no retries"), so callers that want
// the standard defaults should start from DefaultConfig.
type Config struct {
	Workers   int
	QueueSize int

	// CheckInterval is the scan loop's tick.
	CheckInterval time.Duration

	// MaxRetries is the number of additional attempts after the first
	// failed one; RetryDelay is the fixed wait between attempts.
	MaxRetries int
	RetryDelay time.Duration

	// StopTimeout bounds how long Stop waits for the scan loop and workers
	// when the caller's context has no deadline of its own.
	StopTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       10,
		QueueSize:     64,
		CheckInterval: time.Second,
		MaxRetries:    3,
		RetryDelay:    5 * time.Second,
		StopTimeout:   5 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c
}

// Engine owns the registry, the scan loop and the worker pool.
type Engine struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	reg *registry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	queue   chan run
	sup     *rtsup.Supervisor
}

// run is one dispatched execution traveling from the scan loop to a worker.
type run struct {
	id     string
	runID  string
	name   string
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg: cfg.normalized(),
		log: log,
		bus: bus,
		reg: newRegistry(),
	}
}

// Add registers a task with its schedule rule and computes the initial
// next-run time. It fails with ErrDuplicateTask if the id is taken.
func (e *Engine) Add(task Task, rule Rule) error {
	if err := e.reg.add(task, rule); err != nil {
		return err
	}
	info, _ := e.reg.snapshot(task.ID())
	e.log.Info("task registered",
		logx.String("task", task.ID()),
		logx.String("name", task.Name()),
		logx.Time("next_run", info.NextRun))
	return nil
}

// Remove cancels any in-flight run for the task (cooperatively), invokes
// its optional stop hook, and deletes it. It fails with ErrNotFound if the
// id is unknown.
func (e *Engine) Remove(id string) error {
	task, err := e.reg.remove(id)
	if err != nil {
		return err
	}
	if s, ok := task.(Stopper); ok {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopTimeout)
		if err := s.Stop(ctx); err != nil {
			e.log.Warn("task stop hook failed", logx.String("task", id), logx.Err(err))
		}
		cancel()
	}
	e.log.Info("task removed", logx.String("task", id))
	return nil
}

// Enable clears the Disabled status so the scan considers the task again.
func (e *Engine) Enable(id string) error { return e.reg.setEnabled(id, true) }

// Disable makes the scan skip the task until Enable is called. Counters and
// the schedule rule are untouched.
func (e *Engine) Disable(id string) error { return e.reg.setEnabled(id, false) }

// Status returns a snapshot copy of one task's state.
func (e *Engine) Status(id string) (TaskInfo, error) { return e.reg.snapshot(id) }

// Snapshot returns the aggregate engine view.
func (e *Engine) Snapshot() Snapshot {
	tasks, running := e.reg.snapshotAll()

	e.mu.Lock()
	snap := Snapshot{
		Running:      e.running,
		Workers:      e.cfg.Workers,
		TotalTasks:   len(tasks),
		RunningTasks: running,
		Tasks:        tasks,
	}
	if e.queue != nil {
		snap.QueueLen = len(e.queue)
		snap.QueueCap = cap(e.queue)
	}
	e.mu.Unlock()
	return snap
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start spins up the scan loop and the worker pool. It is idempotent while
// the engine is running.
func (e *Engine) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.queue = make(chan run, e.cfg.QueueSize)
	e.sup = rtsup.New(ctx, rtsup.WithLogger(e.log))

	stopCh := e.stopCh
	queue := e.queue
	sup := e.sup
	workers := e.cfg.Workers
	e.mu.Unlock()

	sup.Go0("sched.scan", func(ctx context.Context) {
		e.scanLoop(ctx, stopCh)
	})
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("sched.worker.%d", i)
		sup.Go0(name, func(ctx context.Context) {
			e.worker(ctx, stopCh, queue)
		})
	}

	e.log.Info("engine started",
		logx.Int("workers", workers),
		logx.Duration("check_interval", e.cfg.CheckInterval))
}

// Stop shuts the engine down: no new dispatches, retry waits interrupted,
// already-started attempts allowed to finish, still-Running tasks marked
// Stopped, and optional per-task stop hooks invoked. Safe to call more
// than once.
func (e *Engine) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCh := e.stopCh
	sup := e.sup
	e.stopCh = nil
	e.queue = nil
	e.sup = nil
	e.mu.Unlock()

	close(stopCh)

	wctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.cfg.StopTimeout)
		defer cancel()
	}
	if err := sup.Stop(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			e.log.Warn("shutdown wait expired, abandoning running tasks", logx.Err(err))
		} else {
			e.log.Warn("engine shutdown wait", logx.Err(err))
		}
	}

	e.reg.markAllStopped()

	// Give task owners a chance to release external resources.
	for _, s := range e.reg.stoppers() {
		hctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopTimeout)
		if err := s.Stop(hctx); err != nil {
			e.log.Warn("task stop hook failed", logx.Err(err))
		}
		cancel()
	}

	e.log.Info("engine stopped")
}

func (e *Engine) scanLoop(ctx context.Context, stopCh <-chan struct{}) {
	t := time.NewTicker(e.cfg.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-t.C:
			e.sweep(now)
		}
	}
}

// sweep dispatches every due task in one pass over the registry.
//
// Dispatch accounting (run_count, last_run, next_run) happens here, at
// dispatch time, not at completion time: a slow execution never delays its
// own schedule, and back-to-back windows are suppressed only by the Running
// status check. Enqueue-then-mutate keeps a full queue from corrupting
// counters: a task that can't be queued stays schedulable for the next tick.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	queue := e.queue
	running := e.running
	e.mu.Unlock()
	if !running || queue == nil {
		return
	}

	var dispatched []run

	e.reg.mu.Lock()
	for id, ent := range e.reg.entries {
		info := &ent.info
		if info.NextRun.IsZero() || info.NextRun.After(now) {
			continue
		}
		if info.Status == StatusRunning || info.Status == StatusDisabled {
			continue
		}

		runCtx, cancel := context.WithCancel(context.Background())
		r := run{
			id:     id,
			runID:  uuid.NewString(),
			name:   info.Name,
			task:   ent.task,
			ctx:    runCtx,
			cancel: cancel,
		}
		select {
		case queue <- r:
		default:
			cancel()
			e.log.Warn("dispatch deferred: queue full", logx.String("task", id))
			continue
		}

		info.Status = StatusRunning
		info.RunCount++
		info.LastRun = now
		info.UpdatedAt = now
		if next, ok := ent.rule.Next(now); ok {
			info.NextRun = next
		} else {
			info.NextRun = time.Time{}
		}
		ent.cancel = cancel
		dispatched = append(dispatched, r)
	}
	e.reg.mu.Unlock()

	for _, r := range dispatched {
		e.log.Debug("task dispatched", logx.String("task", r.id), logx.String("run", r.runID))
		e.publish(EventDispatched, TaskEvent{RunID: r.runID, TaskID: r.id, Name: r.name, Started: now})
	}
}

func (e *Engine) publish(typ string, ev TaskEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
