package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Pipeline contains the ordered stage sequence the executors run.
type Pipeline struct {
	Stages []string `toml:"stages"`
}

// Workflow contains orchestration timing and concurrency settings.
type Workflow struct {
	LeaseTimeoutSeconds   int    `toml:"lease_timeout_seconds"`
	StuckThresholdSeconds int    `toml:"stuck_threshold_seconds"`
	SchedulerSpec         string `toml:"scheduler_spec"`
	SweeperSpec           string `toml:"sweeper_spec"`
	WorkerConcurrency     int    `toml:"worker_concurrency"`
	InlineRunSeconds      int    `toml:"inline_run_seconds"`
	SequentialLeaseMargin int    `toml:"sequential_lease_margin_seconds"`
}

// Retry contains the orchestrator-level retry policy for failed stages.
type Retry struct {
	MaxAttempts      int `toml:"max_attempts"`
	BaseDelaySeconds int `toml:"base_delay_seconds"`
	MaxDelaySeconds  int `toml:"max_delay_seconds"`
}

// Gate contains the confidence thresholds applied after extraction.
// The cutoffs are business tuning, not structural requirements, so they are
// configurable rather than hard-coded.
type Gate struct {
	AutoApproveThreshold float64 `toml:"auto_approve_threshold"`
	RejectThreshold      float64 `toml:"reject_threshold"`
}

// Broker contains durable queue settings for the distributed executor.
type Broker struct {
	Driver     string `toml:"driver"`
	URL        string `toml:"url"`
	StreamName string `toml:"stream_name"`
}

// Services contains the endpoints of the external collaborators the stage
// handlers call: the extraction provider, the subject system of record, and
// the commerce catalog.
type Services struct {
	ExtractionURL         string `toml:"extraction_url"`
	RepositoryURL         string `toml:"repository_url"`
	CatalogURL            string `toml:"catalog_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Notifications contains tenant-facing status webhook settings.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Workflow      Workflow      `toml:"workflow"`
	Retry         Retry         `toml:"retry"`
	Gate          Gate          `toml:"gate"`
	Broker        Broker        `toml:"broker"`
	Services      Services      `toml:"services"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the location searched when no explicit path is given.
func DefaultConfigPath() string {
	return expandPath("~/.config/docflow/config.toml")
}

// Load reads configuration from path, overlaying defaults. A missing file is
// not an error; the defaults are returned instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	resolved := expandPath(strings.TrimSpace(path))
	if resolved == "" {
		resolved = DefaultConfigPath()
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	resolved := expandPath(strings.TrimSpace(path))
	if resolved == "" {
		resolved = DefaultConfigPath()
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config already exists at %s", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the data and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LeaseTimeout returns the lock lease duration.
func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Workflow.LeaseTimeoutSeconds) * time.Second
}

// StuckThreshold returns how long a processing workflow may go without an
// update before it is considered stuck.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.Workflow.StuckThresholdSeconds) * time.Second
}

// SequentialLease returns the lease used by the sequential executor: the base
// lease plus a margin covering the expected full pipeline duration.
func (c *Config) SequentialLease() time.Duration {
	margin := time.Duration(c.Workflow.SequentialLeaseMargin) * time.Second
	return c.LeaseTimeout() + margin
}

// InlineRunTimeout bounds the asynchronous sequential run triggered by ingestion.
func (c *Config) InlineRunTimeout() time.Duration {
	return time.Duration(c.Workflow.InlineRunSeconds) * time.Second
}

// ServiceTimeout bounds individual calls to external collaborator services.
func (c *Config) ServiceTimeout() time.Duration {
	if c.Services.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Services.RequestTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the base delay for exponential backoff.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelaySeconds) * time.Second
}

// RetryMaxDelay returns the backoff cap.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelaySeconds) * time.Second
}

func (c *Config) normalize() {
	c.Paths.DataDir = expandPath(c.Paths.DataDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Broker.Driver = strings.ToLower(strings.TrimSpace(c.Broker.Driver))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if len(c.Pipeline.Stages) == 0 {
		c.Pipeline.Stages = defaultStages()
	}
}

func expandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return trimmed
	}
	if strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, trimmed[2:])
		}
	}
	return trimmed
}
