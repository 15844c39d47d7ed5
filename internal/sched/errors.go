package sched

import "errors"

var (
	ErrInvalidRule   = errors.New("invalid schedule rule")
	ErrDuplicateTask = errors.New("duplicate task id")
	ErrNotFound      = errors.New("task not found")
)
