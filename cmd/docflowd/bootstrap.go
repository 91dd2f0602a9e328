package main

import (
	"fmt"

	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/stages"
	"docflow/internal/sweeper"
)

// buildDependencies wires the HTTP collaborator clients from configuration.
// The subject repository doubles as the sweeper's terminal-data probe.
func buildDependencies(cfg *config.Config) (daemon.Dependencies, error) {
	collaborators, err := stages.BuildHTTPCollaborators(cfg)
	if err != nil {
		return daemon.Dependencies{}, fmt.Errorf("wire stage services: %w", err)
	}
	probe, ok := collaborators.Repo.(sweeper.SubjectProbe)
	if !ok {
		return daemon.Dependencies{}, fmt.Errorf("subject repository cannot probe terminal data")
	}
	return daemon.Dependencies{
		Stages: collaborators,
		Probe:  probe,
	}, nil
}
