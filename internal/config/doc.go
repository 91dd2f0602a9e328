// Package config loads and validates the docflow TOML configuration.
//
// Configuration is read from ~/.config/docflow/config.toml by default and
// overlays the defaults returned by Default. Validation happens once at load
// time so the rest of the process can trust the values it receives.
package config
