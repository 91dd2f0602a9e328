// Package main hosts the docflow CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon's operator API: workflow listing and inspection,
// failed-workflow resets, dead-letter maintenance, document ingestion, and
// configuration scaffolding. The `run` command starts the daemon itself in
// the foreground.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
