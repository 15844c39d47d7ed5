package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "aquarig/pkg/logx"
)

func (e *Engine) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan run) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case r := <-queue:
			e.execOne(stopCh, r)
		}
	}
}

// execOne runs one dispatched task through the fixed-delay retry policy.
//
// The stop signal is observed at three points: before each attempt, during
// the retry wait, and (via the run context) inside Execute if the task
// cooperates. Failures are fully contained here; nothing propagates past
// the registry write.
func (e *Engine) execOne(stopCh <-chan struct{}, r run) {
	defer r.cancel()

	start := time.Now()
	maxAttempts := 1 + e.cfg.MaxRetries

	var err error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-stopCh:
			e.finishStopped(r, start, attempts)
			return
		case <-r.ctx.Done():
			// Removed while queued or waiting; the entry is already gone.
			return
		default:
		}

		attempts = attempt
		err = e.runAttempt(r)
		if err == nil {
			e.finishCompleted(r, start, attempts)
			return
		}
		if attempt >= maxAttempts {
			break
		}

		e.log.Warn("task failed, will retry",
			logx.String("task", r.id),
			logx.Int("attempt", attempt),
			logx.Duration("delay", e.cfg.RetryDelay),
			logx.Err(err))

		if d := e.cfg.RetryDelay; d > 0 {
			tmr := time.NewTimer(d)
			select {
			case <-stopCh:
				if !tmr.Stop() {
					<-tmr.C
				}
				e.finishStopped(r, start, attempts)
				return
			case <-r.ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return
			case <-tmr.C:
			}
		}
	}

	e.finishFailed(r, start, attempts, err)
}

// runAttempt normalizes every failure mode of Execute into an error:
// a panic is recovered and folded in so one bad task can never take down a
// worker or the scan loop.
func (e *Engine) runAttempt(r run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			e.log.Error("task panicked",
				logx.String("task", r.id),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return r.task.Execute(r.ctx)
}

func (e *Engine) finishCompleted(r run, start time.Time, attempts int) {
	dur := time.Since(start)
	now := time.Now()

	e.reg.mu.Lock()
	if ent, ok := e.reg.entries[r.id]; ok {
		ent.cancel = nil
		ent.info.SuccessCount++
		ent.info.LastError = ""
		ent.info.UpdatedAt = now
		if ent.info.Status != StatusDisabled {
			ent.info.Status = StatusCompleted
		}
	}
	e.reg.mu.Unlock()

	if dur >= 750*time.Millisecond {
		e.log.Info("task completed", logx.String("task", r.id), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else {
		e.log.Debug("task completed", logx.String("task", r.id), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	}
	e.publish(EventCompleted, TaskEvent{RunID: r.runID, TaskID: r.id, Name: r.name, Started: start, Duration: dur, Attempts: attempts})
}

func (e *Engine) finishFailed(r run, start time.Time, attempts int, err error) {
	dur := time.Since(start)
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	e.reg.mu.Lock()
	if ent, ok := e.reg.entries[r.id]; ok {
		ent.cancel = nil
		ent.info.FailureCount++
		ent.info.LastError = msg
		ent.info.UpdatedAt = now
		if ent.info.Status != StatusDisabled {
			ent.info.Status = StatusFailed
		}
	}
	e.reg.mu.Unlock()

	e.log.Warn("task failed", logx.String("task", r.id), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	e.publish(EventFailed, TaskEvent{RunID: r.runID, TaskID: r.id, Name: r.name, Started: start, Duration: dur, Attempts: attempts, Error: msg})
}

func (e *Engine) finishStopped(r run, start time.Time, attempts int) {
	dur := time.Since(start)
	now := time.Now()

	e.reg.mu.Lock()
	if ent, ok := e.reg.entries[r.id]; ok {
		ent.cancel = nil
		if ent.info.Status == StatusRunning {
			ent.info.Status = StatusStopped
			ent.info.UpdatedAt = now
		}
	}
	e.reg.mu.Unlock()

	e.log.Debug("task interrupted by shutdown", logx.String("task", r.id), logx.Int("attempts", attempts))
	e.publish(EventStopped, TaskEvent{RunID: r.runID, TaskID: r.id, Name: r.name, Started: start, Duration: dur, Attempts: attempts})
}
