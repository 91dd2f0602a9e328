// Package services defines shared utilities consumed by the workflow
// executors and the stage handler boundaries.
//
// Key responsibilities:
//   - Context helpers that stamp workflow IDs, tenant IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - The error taxonomy: sentinel markers, the Wrap helper, and Classify,
//     which maps a stage failure onto a retry category the dead-letter
//     router acts on.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
