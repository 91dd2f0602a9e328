package stages

import (
	"fmt"

	"docflow/internal/config"
	"docflow/internal/stage"
)

// Collaborators bundles the external-system interfaces the pipeline
// needs. The daemon constructs one set and hands it to BuildRegistry.
type Collaborators struct {
	Provider ExtractionProvider
	Repo     SubjectRepository
	Catalog  CatalogClient
}

// BuildRegistry wires the configured pipeline stages to their handlers.
// Unknown stage names in the configuration are a wiring error.
func BuildRegistry(cfg *config.Config, deps Collaborators) (*stage.Registry, error) {
	reg := stage.NewRegistry(cfg.Pipeline.Stages)
	for _, name := range reg.Order() {
		var h stage.Handler
		switch name {
		case "extract":
			h = NewExtractHandler(deps.Provider)
		case "persist":
			h = NewPersistHandler(deps.Repo)
		case "draft":
			h = NewDraftHandler(deps.Catalog)
		case "assets":
			h = NewAssetsHandler(deps.Catalog)
		case "catalog_sync":
			h = NewCatalogSyncHandler(deps.Catalog)
		case "finalize":
			h = NewFinalizeHandler(deps.Repo)
		default:
			return nil, fmt.Errorf("no handler for configured stage %q", name)
		}
		if err := reg.Register(name, h); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
