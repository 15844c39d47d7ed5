package sched

import (
	"fmt"
	"time"
)

// Rule decides when a task next runs.
//
// Rules are pure and immutable: Next depends only on the rule's own
// parameters and the last run time. A zero last means the task has never
// run. ok=false means the rule will never yield another run time.
type Rule interface {
	Next(last time.Time) (next time.Time, ok bool)
}

type intervalRule struct {
	every time.Duration
}

// NewInterval returns a rule that fires immediately on first evaluation and
// then every `every` after each dispatch.
func NewInterval(every time.Duration) (Rule, error) {
	if every <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidRule, every)
	}
	return intervalRule{every: every}, nil
}

func (r intervalRule) Next(last time.Time) (time.Time, bool) {
	if last.IsZero() {
		return time.Now(), true
	}
	return last.Add(r.every), true
}

type onceRule struct {
	at time.Time
}

// NewOnce returns a rule that fires exactly once at the given time.
//
// A run time in the past is accepted and fires on the next scan tick.
// After the first dispatch the rule never fires again, regardless of
// whether the run succeeded.
func NewOnce(at time.Time) (Rule, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: one-shot run time required", ErrInvalidRule)
	}
	return onceRule{at: at}, nil
}

func (r onceRule) Next(last time.Time) (time.Time, bool) {
	if last.IsZero() {
		return r.at, true
	}
	return time.Time{}, false
}
