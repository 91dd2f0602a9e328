// Package workflow defines the persistent workflow record model: statuses,
// the lock lease embedded in record metadata, stage history, and the
// tenant-facing status projection.
//
// The record store is the single source of truth for orchestration. Executors
// and the recovery sweeper mutate records only through conditional updates so
// overlapping processes never clobber each other's transitions.
package workflow
