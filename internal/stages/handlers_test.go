package stages_test

import (
	"context"
	"errors"
	"testing"

	"docflow/internal/config"
	"docflow/internal/services"
	"docflow/internal/stage"
	"docflow/internal/stages"
)

type fakeProvider struct {
	extraction stages.Extraction
	err        error
}

func (f *fakeProvider) Extract(context.Context, string, string) (stages.Extraction, error) {
	return f.extraction, f.err
}

type fakeRepo struct {
	upserts   []stages.Subject
	processed []string
	err       error
}

func (f *fakeRepo) UpsertSubject(_ context.Context, s stages.Subject) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, s)
	return nil
}

func (f *fakeRepo) MarkProcessed(_ context.Context, subjectID string) error {
	if f.err != nil {
		return f.err
	}
	f.processed = append(f.processed, subjectID)
	return nil
}

type fakeCatalog struct {
	draftID string
	assets  []string
	synced  []string
	err     error
}

func (f *fakeCatalog) EnsureDraft(context.Context, string, string, map[string]any) (string, error) {
	return f.draftID, f.err
}

func (f *fakeCatalog) AttachAssets(context.Context, string, string, string) ([]string, error) {
	return f.assets, f.err
}

func (f *fakeCatalog) SyncDraft(_ context.Context, _ string, draftID string) error {
	if f.err != nil {
		return f.err
	}
	f.synced = append(f.synced, draftID)
	return nil
}

func req(input map[string]any) stage.Request {
	return stage.Request{
		WorkflowID: "wf-1",
		SubjectID:  "subj-1",
		TenantID:   "tenant-a",
		Input:      input,
	}
}

func TestExtractHandlerReturnsFieldsAndConfidence(t *testing.T) {
	provider := &fakeProvider{extraction: stages.Extraction{
		Fields:     map[string]any{"total": "12.40"},
		Confidence: 0.91,
	}}
	h := stages.NewExtractHandler(provider)

	res, err := h.Execute(context.Background(), req(nil))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Confidence != 0.91 {
		t.Fatalf("unexpected confidence: %v", res.Confidence)
	}
	fields, ok := res.Output["fields"].(map[string]any)
	if !ok || fields["total"] != "12.40" {
		t.Fatalf("unexpected output: %+v", res.Output)
	}
}

func TestExtractHandlerPropagatesProviderError(t *testing.T) {
	provider := &fakeProvider{err: services.ErrNetwork}
	h := stages.NewExtractHandler(provider)

	_, err := h.Execute(context.Background(), req(nil))
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected network marker, got %v", err)
	}
}

func TestPersistHandlerUpserts(t *testing.T) {
	repo := &fakeRepo{}
	h := stages.NewPersistHandler(repo)

	input := map[string]any{"fields": map[string]any{"total": "12.40"}}
	if _, err := h.Execute(context.Background(), req(input)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(repo.upserts))
	}
	if repo.upserts[0].SubjectID != "subj-1" || repo.upserts[0].TenantID != "tenant-a" {
		t.Fatalf("unexpected subject: %+v", repo.upserts[0])
	}
}

func TestPersistHandlerRejectsMissingFields(t *testing.T) {
	h := stages.NewPersistHandler(&fakeRepo{})
	_, err := h.Execute(context.Background(), req(nil))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestDraftHandlerReturnsDraftID(t *testing.T) {
	h := stages.NewDraftHandler(&fakeCatalog{draftID: "draft-7"})
	input := map[string]any{"fields": map[string]any{}}

	res, err := h.Execute(context.Background(), req(input))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Output["draft_id"] != "draft-7" {
		t.Fatalf("unexpected output: %+v", res.Output)
	}
}

func TestAssetsHandlerRequiresDraftID(t *testing.T) {
	h := stages.NewAssetsHandler(&fakeCatalog{})
	_, err := h.Execute(context.Background(), req(map[string]any{}))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestCatalogSyncHandlerSyncs(t *testing.T) {
	catalog := &fakeCatalog{}
	h := stages.NewCatalogSyncHandler(catalog)

	input := map[string]any{"draft_id": "draft-7"}
	if _, err := h.Execute(context.Background(), req(input)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(catalog.synced) != 1 || catalog.synced[0] != "draft-7" {
		t.Fatalf("unexpected syncs: %v", catalog.synced)
	}
}

func TestFinalizeHandlerMarksProcessed(t *testing.T) {
	repo := &fakeRepo{}
	h := stages.NewFinalizeHandler(repo)

	if _, err := h.Execute(context.Background(), req(nil)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(repo.processed) != 1 || repo.processed[0] != "subj-1" {
		t.Fatalf("unexpected processed list: %v", repo.processed)
	}
}

func TestBuildRegistryWiresEveryConfiguredStage(t *testing.T) {
	cfg := config.Default()
	reg, err := stages.BuildRegistry(cfg, stages.Collaborators{
		Provider: &fakeProvider{},
		Repo:     &fakeRepo{},
		Catalog:  &fakeCatalog{},
	})
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if reg.Len() != len(cfg.Pipeline.Stages) {
		t.Fatalf("expected %d stages, got %d", len(cfg.Pipeline.Stages), reg.Len())
	}
}

func TestBuildRegistryRejectsUnknownStage(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Stages = append(cfg.Pipeline.Stages, "mystery")
	_, err := stages.BuildRegistry(cfg, stages.Collaborators{
		Provider: &fakeProvider{},
		Repo:     &fakeRepo{},
		Catalog:  &fakeCatalog{},
	})
	if err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
