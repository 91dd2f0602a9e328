// Package notifications delivers workflow status events to a tenant-facing
// webhook.
//
// The default implementation posts JSON events to the webhook URL configured
// in config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover the workflow milestones so the
// finalize stage and operator tooling can emit consistent events without
// duplicating HTTP glue.
//
// All workflow code depends only on the Service interface, so alternative
// transports slot in without touching the pipeline.
package notifications
