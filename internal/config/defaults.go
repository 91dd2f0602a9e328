package config

const (
	defaultDataDir               = "~/.local/share/docflow"
	defaultLogDir                = "~/.local/share/docflow/logs"
	defaultAPIBind               = "127.0.0.1:7519"
	defaultLeaseTimeoutSeconds   = 120
	defaultStuckThresholdSeconds = 300
	defaultSchedulerSpec         = "@every 1m"
	defaultSweeperSpec           = "@every 5m"
	defaultWorkerConcurrency     = 4
	defaultInlineRunSeconds      = 600
	defaultSequentialMargin      = 480
	defaultRetryMaxAttempts      = 3
	defaultRetryBaseSeconds      = 2
	defaultRetryMaxSeconds       = 60
	defaultAutoApproveThreshold  = 0.90
	defaultRejectThreshold       = 0.30
	defaultBrokerDriver          = "memory"
	defaultBrokerStream          = "DOCFLOW_JOBS"
	defaultNotifyTimeout         = 10
	defaultServiceTimeout        = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

func defaultStages() []string {
	return []string{"extract", "persist", "draft", "assets", "catalog_sync", "finalize"}
}

// Default returns a Config populated with repository defaults.
func Default() *Config {
	return &Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			Stages: defaultStages(),
		},
		Workflow: Workflow{
			LeaseTimeoutSeconds:   defaultLeaseTimeoutSeconds,
			StuckThresholdSeconds: defaultStuckThresholdSeconds,
			SchedulerSpec:         defaultSchedulerSpec,
			SweeperSpec:           defaultSweeperSpec,
			WorkerConcurrency:     defaultWorkerConcurrency,
			InlineRunSeconds:      defaultInlineRunSeconds,
			SequentialLeaseMargin: defaultSequentialMargin,
		},
		Retry: Retry{
			MaxAttempts:      defaultRetryMaxAttempts,
			BaseDelaySeconds: defaultRetryBaseSeconds,
			MaxDelaySeconds:  defaultRetryMaxSeconds,
		},
		Gate: Gate{
			AutoApproveThreshold: defaultAutoApproveThreshold,
			RejectThreshold:      defaultRejectThreshold,
		},
		Broker: Broker{
			Driver:     defaultBrokerDriver,
			URL:        "nats://127.0.0.1:4222",
			StreamName: defaultBrokerStream,
		},
		Services: Services{
			RequestTimeoutSeconds: defaultServiceTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
