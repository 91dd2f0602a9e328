package testsupport

import (
	"path/filepath"
	"testing"

	"docflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It uses the in-memory broker and zero retry delays so tests run fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Broker.Driver = "memory"
	cfg.Retry.BaseDelaySeconds = 0
	cfg.Retry.MaxDelaySeconds = 0

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithStages overrides the pipeline stage sequence on the test config.
func WithStages(stages ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Stages = stages
	}
}

// WithGate overrides the confidence gate thresholds on the test config.
func WithGate(autoApprove, reject float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Gate.AutoApproveThreshold = autoApprove
		cfg.Gate.RejectThreshold = reject
	}
}
