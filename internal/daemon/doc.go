// Package daemon wires the workflow orchestrator together: the SQLite store,
// the stage broker and its consumers, the scheduler and sweeper crons, the
// sequential runner used for inline ingestion, and the operator HTTP API.
// A file lock enforces a single daemon instance per data directory.
package daemon
