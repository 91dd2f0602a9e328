package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the orchestrator cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must not be empty")
	}
	if len(c.Pipeline.Stages) == 0 {
		problems = append(problems, "pipeline.stages must name at least one stage")
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, name := range c.Pipeline.Stages {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			problems = append(problems, "pipeline.stages must not contain empty names")
			continue
		}
		if _, dup := seen[trimmed]; dup {
			problems = append(problems, fmt.Sprintf("pipeline.stages contains duplicate stage %q", trimmed))
		}
		seen[trimmed] = struct{}{}
	}

	if c.Workflow.LeaseTimeoutSeconds <= 0 {
		problems = append(problems, "workflow.lease_timeout_seconds must be positive")
	}
	if c.Workflow.StuckThresholdSeconds <= 0 {
		problems = append(problems, "workflow.stuck_threshold_seconds must be positive")
	}
	if c.Workflow.WorkerConcurrency <= 0 {
		problems = append(problems, "workflow.worker_concurrency must be positive")
	}
	if strings.TrimSpace(c.Workflow.SchedulerSpec) == "" {
		problems = append(problems, "workflow.scheduler_spec must not be empty")
	}
	if strings.TrimSpace(c.Workflow.SweeperSpec) == "" {
		problems = append(problems, "workflow.sweeper_spec must not be empty")
	}

	if c.Retry.MaxAttempts <= 0 {
		problems = append(problems, "retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelaySeconds <= 0 {
		problems = append(problems, "retry.base_delay_seconds must be positive")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		problems = append(problems, "retry.max_delay_seconds must be at least the base delay")
	}

	if c.Gate.AutoApproveThreshold < 0 || c.Gate.AutoApproveThreshold > 1 {
		problems = append(problems, "gate.auto_approve_threshold must be between 0 and 1")
	}
	if c.Gate.RejectThreshold < 0 || c.Gate.RejectThreshold > 1 {
		problems = append(problems, "gate.reject_threshold must be between 0 and 1")
	}
	if c.Gate.RejectThreshold >= c.Gate.AutoApproveThreshold {
		problems = append(problems, "gate.reject_threshold must be below gate.auto_approve_threshold")
	}

	switch c.Broker.Driver {
	case "memory":
	case "jetstream":
		if strings.TrimSpace(c.Broker.URL) == "" {
			problems = append(problems, "broker.url is required for the jetstream driver")
		}
		if strings.TrimSpace(c.Broker.StreamName) == "" {
			problems = append(problems, "broker.stream_name is required for the jetstream driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("broker.driver %q is not supported (memory, jetstream)", c.Broker.Driver))
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported (console, json)", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}
