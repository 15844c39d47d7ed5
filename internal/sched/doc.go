// Package sched is the task scheduling and execution engine at the heart
// of the rig daemon.
//
// It runs a fixed set of recurring and one-shot jobs indefinitely under
// bounded concurrency: a single scan loop polls the registry for due tasks
// and hands them to a worker pool, which applies a fixed-delay retry policy
// and writes results back into the registry. Everything else in the
// application (sensor polling, cloud uploads, device control) plugs in
// through the Task interface and contains no scheduling logic of its own.
package sched
