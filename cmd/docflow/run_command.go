package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docflow/internal/daemon"
	"docflow/internal/logging"
	"docflow/internal/stages"
	"docflow/internal/sweeper"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			collaborators, err := stages.BuildHTTPCollaborators(cfg)
			if err != nil {
				return fmt.Errorf("wire stage services: %w", err)
			}
			probe, _ := collaborators.Repo.(sweeper.SubjectProbe)

			d, err := daemon.New(signalCtx, cfg, daemon.Dependencies{
				Stages: collaborators,
				Probe:  probe,
			}, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			if err := d.Start(signalCtx); err != nil {
				return err
			}

			<-signalCtx.Done()
			logger.Info("docflow daemon shutting down")
			return nil
		},
	}
}
