// Package logging provides the slog construction and attribute helpers shared
// by every docflow component. Loggers are built once at process start from
// config and passed by injection; no package keeps ambient logger state.
package logging
