package sched

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aquarig/internal/eventbus"
	logx "aquarig/pkg/logx"
)

func testConfig() Config {
	return Config{
		Workers:       4,
		QueueSize:     16,
		CheckInterval: 10 * time.Millisecond,
		MaxRetries:    0,
		RetryDelay:    10 * time.Millisecond,
		StopTimeout:   2 * time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIntervalTaskRepeats(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	task := NewFunc("tick", "tick", "", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	rule := mustInterval(t, 30*time.Millisecond)

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(task, rule); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	waitFor(t, 2*time.Second, "two runs", func() bool { return runs.Load() >= 2 })

	info, err := e.Status("tick")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if info.Status != StatusCompleted && info.Status != StatusRunning {
		t.Fatalf("status = %s, want completed (or running mid-dispatch)", info.Status)
	}
	if info.SuccessCount < 2 {
		t.Fatalf("success_count = %d, want >= 2", info.SuccessCount)
	}
	if info.FailureCount != 0 || info.LastError != "" {
		t.Fatalf("unexpected failure state: %+v", info)
	}
	if info.NextRun.IsZero() {
		t.Fatal("interval task should always have a next_run")
	}
}

func TestIntervalSpacing(t *testing.T) {
	t.Parallel()
	const every = 50 * time.Millisecond

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	task := NewFunc("spaced", "spaced", "", func(ctx context.Context) error { return nil })
	e := New(testConfig(), logx.Nop(), bus)
	if err := e.Add(task, mustInterval(t, every)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())

	var starts []time.Time
	deadline := time.After(2 * time.Second)
	for len(starts) < 4 {
		select {
		case ev := <-ch:
			if ev.Type != EventDispatched {
				continue
			}
			te := ev.Data.(TaskEvent)
			starts = append(starts, te.Started)
		case <-deadline:
			t.Fatalf("only observed %d dispatches", len(starts))
		}
	}
	e.Stop(context.Background())

	// Consecutive dispatch times may drift later under contention but
	// never closer than the interval.
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < every {
			t.Fatalf("dispatch gap %d = %v, want >= %v", i, gap, every)
		}
	}
}

func TestOnceTaskFailure(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	task := NewFunc("oneshot", "oneshot", "", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})
	rule, err := NewOnce(time.Now().Add(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewOnce: %v", err)
	}

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(task, rule); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	waitFor(t, 2*time.Second, "failed status", func() bool {
		info, err := e.Status("oneshot")
		return err == nil && info.Status == StatusFailed
	})

	// Give the scan a few more ticks: the task must not be re-dispatched.
	time.Sleep(100 * time.Millisecond)

	info, _ := e.Status("oneshot")
	if info.RunCount != 1 || runs.Load() != 1 {
		t.Fatalf("run_count = %d (executions %d), want 1", info.RunCount, runs.Load())
	}
	if info.FailureCount != 1 {
		t.Fatalf("failure_count = %d, want 1", info.FailureCount)
	}
	if !info.NextRun.IsZero() {
		t.Fatalf("next_run = %v, want none after one-shot dispatch", info.NextRun)
	}
	if info.LastError == "" {
		t.Fatal("last_error should carry the failure message")
	}
}

func TestOncePastRunsImmediately(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	task := NewFunc("late", "late", "", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	rule, err := NewOnce(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewOnce: %v", err)
	}

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(task, rule); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	waitFor(t, time.Second, "immediate run", func() bool { return runs.Load() == 1 })
}

func TestRetryBudget(t *testing.T) {
	t.Parallel()
	var executions atomic.Int64
	task := NewFunc("flaky", "flaky", "", func(ctx context.Context) error {
		executions.Add(1)
		return errors.New("still broken")
	})
	rule, err := NewOnce(time.Now())
	if err != nil {
		t.Fatalf("NewOnce: %v", err)
	}

	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelay = 5 * time.Millisecond

	e := New(cfg, logx.Nop(), nil)
	if err := e.Add(task, rule); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	waitFor(t, 2*time.Second, "terminal failure", func() bool {
		info, err := e.Status("flaky")
		return err == nil && info.Status == StatusFailed
	})

	// max_retries + 1 total attempts, but a single failure_count increment.
	if got := executions.Load(); got != 3 {
		t.Fatalf("executions = %d, want 3", got)
	}
	info, _ := e.Status("flaky")
	if info.FailureCount != 1 {
		t.Fatalf("failure_count = %d, want 1", info.FailureCount)
	}
	if info.RunCount != 1 {
		t.Fatalf("run_count = %d, want 1", info.RunCount)
	}
}

func TestAtMostOneConcurrentRun(t *testing.T) {
	t.Parallel()
	var inflight, peak atomic.Int64
	task := NewFunc("slow", "slow", "", func(ctx context.Context) error {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(60 * time.Millisecond)
		inflight.Add(-1)
		return nil
	})

	// The interval is far shorter than the execution time, so every sweep
	// finds the task due; only the Running check prevents a second dispatch.
	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(task, mustInterval(t, 10*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	time.Sleep(400 * time.Millisecond)
	e.Stop(context.Background())

	if peak.Load() > 1 {
		t.Fatalf("observed %d concurrent executions, want at most 1", peak.Load())
	}
	info, _ := e.Status("slow")
	if info.RunCount < 2 {
		t.Fatalf("run_count = %d, want >= 2 (task should be re-dispatched after completion)", info.RunCount)
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()
	e := New(testConfig(), logx.Nop(), nil)
	e.Start(context.Background())
	e.Stop(context.Background())
	e.Stop(context.Background())

	if e.Running() {
		t.Fatal("engine should report stopped")
	}
	snap := e.Snapshot()
	if snap.Running {
		t.Fatal("snapshot should report stopped")
	}
}

func TestStopInterruptsRetryWait(t *testing.T) {
	t.Parallel()
	var executions atomic.Int64
	task := NewFunc("stuck", "stuck", "", func(ctx context.Context) error {
		executions.Add(1)
		return errors.New("down")
	})

	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = 5 * time.Second

	e := New(cfg, logx.Nop(), nil)
	if err := e.Add(task, mustInterval(t, 10*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())

	waitFor(t, 2*time.Second, "first attempt", func() bool { return executions.Load() >= 1 })

	// The worker is now inside the 5s retry wait; Stop must not sit it out.
	begin := time.Now()
	e.Stop(context.Background())
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Fatalf("Stop took %v, should return well before the retry delay elapses", elapsed)
	}

	info, _ := e.Status("stuck")
	if info.Status != StatusStopped {
		t.Fatalf("status = %s, want stopped", info.Status)
	}
}

func TestStopAbandonsTaskIgnoringContext(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	task := NewFunc("hog", "hog", "", func(ctx context.Context) error {
		started <- struct{}{}
		<-release // deliberately ignores ctx
		return nil
	})

	cfg := testConfig()
	cfg.StopTimeout = 100 * time.Millisecond

	e := New(cfg, logx.Nop(), nil)
	if err := e.Add(task, mustInterval(t, 10*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	<-started
	defer close(release)

	begin := time.Now()
	e.Stop(context.Background())
	elapsed := time.Since(begin)
	if elapsed > 2*time.Second {
		t.Fatalf("Stop took %v, should give up after the bounded wait", elapsed)
	}

	info, _ := e.Status("hog")
	if info.Status != StatusStopped {
		t.Fatalf("status = %s, want stopped", info.Status)
	}
}

func TestDuplicateAddLeavesOriginal(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	task := NewFunc("dup", "dup", "", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(task, mustInterval(t, 20*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	waitFor(t, 2*time.Second, "first run", func() bool { return runs.Load() >= 1 })
	before, _ := e.Status("dup")

	err := e.Add(noopTask("dup"), mustInterval(t, time.Minute))
	if !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("Add error = %v, want ErrDuplicateTask", err)
	}

	after, _ := e.Status("dup")
	if after.SuccessCount < before.SuccessCount || after.CreatedAt != before.CreatedAt {
		t.Fatalf("duplicate add disturbed the original: %+v vs %+v", before, after)
	}
}

func TestRemoveCancelsInFlight(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var sawCancel atomic.Bool
	task := NewFunc("blocker", "blocker", "", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	})

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(task, mustInterval(t, 10*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	if err := e.Remove("blocker"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	waitFor(t, 2*time.Second, "cooperative cancel", func() bool { return sawCancel.Load() })

	if _, err := e.Status("blocker"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Status after remove error = %v, want ErrNotFound", err)
	}
	if err := e.Remove("blocker"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove error = %v, want ErrNotFound", err)
	}
}

func TestDisabledTaskSkipped(t *testing.T) {
	t.Parallel()
	var runs atomic.Int64
	task := NewFunc("off", "off", "", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(task, mustInterval(t, 10*time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.Disable("off"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("disabled task ran %d times", runs.Load())
	}

	if err := e.Enable("off"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	waitFor(t, 2*time.Second, "run after enable", func() bool { return runs.Load() >= 1 })
}

func TestPanicIsContained(t *testing.T) {
	t.Parallel()
	var healthy atomic.Int64
	bad := NewFunc("bad", "bad", "", func(ctx context.Context) error {
		panic("wires crossed")
	})
	good := NewFunc("good", "good", "", func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	})

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(bad, mustInterval(t, 20*time.Millisecond)); err != nil {
		t.Fatalf("Add bad: %v", err)
	}
	if err := e.Add(good, mustInterval(t, 20*time.Millisecond)); err != nil {
		t.Fatalf("Add good: %v", err)
	}
	e.Start(context.Background())
	defer e.Stop(context.Background())

	waitFor(t, 2*time.Second, "panic folded into failure", func() bool {
		info, err := e.Status("bad")
		return err == nil && info.Status == StatusFailed
	})
	info, _ := e.Status("bad")
	if !strings.Contains(info.LastError, "panic") {
		t.Fatalf("last_error = %q, want panic message", info.LastError)
	}

	// The sibling task keeps running.
	waitFor(t, 2*time.Second, "healthy sibling", func() bool { return healthy.Load() >= 2 })
}

type stoppableTask struct {
	*FuncTask
	mu      sync.Mutex
	stopped bool
}

func (s *stoppableTask) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func TestStopHookInvokedAtShutdown(t *testing.T) {
	t.Parallel()
	st := &stoppableTask{FuncTask: noopTask("hooked")}

	e := New(testConfig(), logx.Nop(), nil)
	if err := e.Add(st, mustInterval(t, time.Minute)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	e.Start(context.Background())
	e.Stop(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.stopped {
		t.Fatal("stop hook was not invoked at shutdown")
	}
}

func TestSnapshotAggregate(t *testing.T) {
	t.Parallel()
	e := New(testConfig(), logx.Nop(), nil)
	for _, id := range []string{"a", "b", "c"} {
		if err := e.Add(noopTask(id), mustInterval(t, time.Minute)); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}

	snap := e.Snapshot()
	if snap.Running {
		t.Fatal("engine not started yet")
	}
	if snap.TotalTasks != 3 {
		t.Fatalf("total_tasks = %d, want 3", snap.TotalTasks)
	}
	if len(snap.Tasks) != 3 {
		t.Fatalf("tasks map has %d entries, want 3", len(snap.Tasks))
	}
	for id, info := range snap.Tasks {
		if info.ID != id {
			t.Fatalf("task %s snapshot carries id %s", id, info.ID)
		}
	}

	e.Start(context.Background())
	if !e.Snapshot().Running {
		t.Fatal("snapshot should report running after Start")
	}
	e.Stop(context.Background())
}
