package stages

import (
	"context"
	"fmt"

	"docflow/internal/services"
	"docflow/internal/stage"
)

// Payload keys shared between stages.
const (
	keyFields     = "fields"
	keyConfidence = "confidence"
	keyDraftID    = "draft_id"
	keyAssets     = "assets"
)

// ExtractHandler runs field extraction and scores it for the
// confidence gate.
type ExtractHandler struct {
	provider ExtractionProvider
}

func NewExtractHandler(p ExtractionProvider) *ExtractHandler {
	return &ExtractHandler{provider: p}
}

func (h *ExtractHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	ex, err := h.provider.Extract(ctx, req.TenantID, req.SubjectID)
	if err != nil {
		return stage.Result{}, fmt.Errorf("extract document %s: %w", req.SubjectID, err)
	}
	return stage.Result{
		Output: map[string]any{
			keyFields:     ex.Fields,
			keyConfidence: ex.Confidence,
		},
		Confidence: ex.Confidence,
	}, nil
}

func (h *ExtractHandler) HealthCheck(context.Context) stage.Health {
	if h.provider == nil {
		return stage.Unhealthy("extract", "no extraction provider")
	}
	return stage.Healthy("extract")
}

// PersistHandler writes extracted fields to the system of record.
type PersistHandler struct {
	repo SubjectRepository
}

func NewPersistHandler(r SubjectRepository) *PersistHandler {
	return &PersistHandler{repo: r}
}

func (h *PersistHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	fields, err := fieldsFromInput(req.Input)
	if err != nil {
		return stage.Result{}, err
	}
	subject := Subject{SubjectID: req.SubjectID, TenantID: req.TenantID, Fields: fields}
	if err := h.repo.UpsertSubject(ctx, subject); err != nil {
		return stage.Result{}, fmt.Errorf("upsert subject %s: %w", req.SubjectID, err)
	}
	return stage.Result{}, nil
}

func (h *PersistHandler) HealthCheck(context.Context) stage.Health {
	if h.repo == nil {
		return stage.Unhealthy("persist", "no subject repository")
	}
	return stage.Healthy("persist")
}

// DraftHandler ensures a catalog draft exists for the subject.
type DraftHandler struct {
	catalog CatalogClient
}

func NewDraftHandler(c CatalogClient) *DraftHandler {
	return &DraftHandler{catalog: c}
}

func (h *DraftHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	fields, err := fieldsFromInput(req.Input)
	if err != nil {
		return stage.Result{}, err
	}
	draftID, err := h.catalog.EnsureDraft(ctx, req.TenantID, req.SubjectID, fields)
	if err != nil {
		return stage.Result{}, fmt.Errorf("ensure draft for %s: %w", req.SubjectID, err)
	}
	return stage.Result{Output: map[string]any{keyDraftID: draftID}}, nil
}

func (h *DraftHandler) HealthCheck(context.Context) stage.Health {
	if h.catalog == nil {
		return stage.Unhealthy("draft", "no catalog client")
	}
	return stage.Healthy("draft")
}

// AssetsHandler attaches stored document assets to the draft.
type AssetsHandler struct {
	catalog CatalogClient
}

func NewAssetsHandler(c CatalogClient) *AssetsHandler {
	return &AssetsHandler{catalog: c}
}

func (h *AssetsHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	draftID, err := draftIDFromInput(req.Input)
	if err != nil {
		return stage.Result{}, err
	}
	assets, err := h.catalog.AttachAssets(ctx, req.TenantID, draftID, req.SubjectID)
	if err != nil {
		return stage.Result{}, fmt.Errorf("attach assets to draft %s: %w", draftID, err)
	}
	return stage.Result{Output: map[string]any{keyAssets: assets}}, nil
}

func (h *AssetsHandler) HealthCheck(context.Context) stage.Health {
	if h.catalog == nil {
		return stage.Unhealthy("assets", "no catalog client")
	}
	return stage.Healthy("assets")
}

// CatalogSyncHandler publishes the draft to the tenant's catalog.
type CatalogSyncHandler struct {
	catalog CatalogClient
}

func NewCatalogSyncHandler(c CatalogClient) *CatalogSyncHandler {
	return &CatalogSyncHandler{catalog: c}
}

func (h *CatalogSyncHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	draftID, err := draftIDFromInput(req.Input)
	if err != nil {
		return stage.Result{}, err
	}
	if err := h.catalog.SyncDraft(ctx, req.TenantID, draftID); err != nil {
		return stage.Result{}, fmt.Errorf("sync draft %s: %w", draftID, err)
	}
	return stage.Result{}, nil
}

func (h *CatalogSyncHandler) HealthCheck(context.Context) stage.Health {
	if h.catalog == nil {
		return stage.Unhealthy("catalog_sync", "no catalog client")
	}
	return stage.Healthy("catalog_sync")
}

// FinalizeHandler closes out the subject in the system of record.
type FinalizeHandler struct {
	repo SubjectRepository
}

func NewFinalizeHandler(r SubjectRepository) *FinalizeHandler {
	return &FinalizeHandler{repo: r}
}

func (h *FinalizeHandler) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	if err := h.repo.MarkProcessed(ctx, req.SubjectID); err != nil {
		return stage.Result{}, fmt.Errorf("mark subject %s processed: %w", req.SubjectID, err)
	}
	return stage.Result{}, nil
}

func (h *FinalizeHandler) HealthCheck(context.Context) stage.Health {
	if h.repo == nil {
		return stage.Unhealthy("finalize", "no subject repository")
	}
	return stage.Healthy("finalize")
}

func fieldsFromInput(input map[string]any) (map[string]any, error) {
	raw, ok := input[keyFields]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "stages", "read fields",
			"Extracted fields missing from pipeline payload; rerun extraction", nil)
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "stages", "read fields",
			"Extracted fields have an unexpected shape; rerun extraction", nil)
	}
	return fields, nil
}

func draftIDFromInput(input map[string]any) (string, error) {
	raw, ok := input[keyDraftID]
	if !ok {
		return "", services.Wrap(services.ErrValidation, "stages", "read draft id",
			"Draft ID missing from pipeline payload; rerun draft creation", nil)
	}
	draftID, ok := raw.(string)
	if !ok || draftID == "" {
		return "", services.Wrap(services.ErrValidation, "stages", "read draft id",
			"Draft ID is empty or malformed; rerun draft creation", nil)
	}
	return draftID, nil
}
