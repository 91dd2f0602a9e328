package broker

import (
	"context"
	"fmt"
	"log/slog"

	"docflow/internal/config"
)

// New builds the broker named by the configuration. The memory driver
// serves single-process deployments; jetstream serves fleets of worker
// processes sharing a NATS cluster.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Broker, error) {
	switch cfg.Broker.Driver {
	case "", "memory":
		return NewMemory(0, logger).WithConcurrency(cfg.Workflow.WorkerConcurrency), nil
	case "jetstream":
		return NewJetStream(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}
