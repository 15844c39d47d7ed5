// Package history persists finished task runs and sensor samples.
// Backends: none (disabled), file (JSON Lines), sqlite.
package history
