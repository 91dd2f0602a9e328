// Package store persists workflow records and dead-letter entries in SQLite.
//
// Every mutation of status, current stage, or lock metadata goes through a
// versioned conditional update: writers pass the version they read, and the
// update fails with ErrVersionConflict when another process got there first.
// The scheduler, workers, sequential executor, and recovery sweeper all rely
// on this compare-and-swap discipline instead of cross-process locks.
package store
