// Package api defines wire-format types and the operator service for the
// HTTP API layer and the CLI. It translates internal workflow models into
// transport-friendly DTOs so consumers never couple to internal types.
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers.
// Internal enums are exposed as lowercase strings and timestamps use
// RFC3339. The tenant-facing view deliberately collapses the internal
// status machine into plain-language states.
package api
