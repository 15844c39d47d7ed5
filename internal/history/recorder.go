package history

import (
	"context"
	"time"

	"aquarig/internal/eventbus"
	"aquarig/internal/sched"
	"aquarig/pkg/logx"
)

// Recorder subscribes to the event bus and persists one RunEntry per
// finished task run. It is a no-op when the store is nil (history
// disabled).
type Recorder struct {
	store Store
	log   logx.Logger
}

func NewRecorder(store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run consumes bus events until ctx is canceled. Intended to be run
// under a supervisor.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	if r.store == nil || bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := bus.SubscribeTo(64, sched.EventCompleted, sched.EventFailed, sched.EventStopped)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	outcome := outcomeFor(ev.Type)
	if outcome == "" {
		return
	}
	te, ok := ev.Data.(sched.TaskEvent)
	if !ok {
		return
	}
	entry := RunEntry{
		RunID:    te.RunID,
		TaskID:   te.TaskID,
		Name:     te.Name,
		Started:  te.Started,
		TookMS:   te.Duration.Milliseconds(),
		Attempts: te.Attempts,
		Outcome:  outcome,
		Error:    te.Error,
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.AppendRun(wctx, entry); err != nil {
		r.log.Warn("run history write failed",
			logx.String("task_id", te.TaskID), logx.Err(err))
	}
}

func outcomeFor(eventType string) string {
	switch eventType {
	case sched.EventCompleted:
		return "completed"
	case sched.EventFailed:
		return "failed"
	case sched.EventStopped:
		return "stopped"
	default:
		// dispatched and non-task events carry no outcome
		return ""
	}
}
