// Package stages implements the six pipeline stage handlers. Each
// handler is a thin adapter over a collaborator interface (extraction
// provider, subject repository, catalog client); the orchestration
// rules live in the executors, and the external systems live behind
// the interfaces, so handlers stay pure glue.
package stages

import "context"

// Extraction is what the extraction provider returns for a document.
type Extraction struct {
	Fields     map[string]any
	Confidence float64
}

// ExtractionProvider runs document field extraction.
type ExtractionProvider interface {
	Extract(ctx context.Context, tenantID, subjectID string) (Extraction, error)
}

// Subject is the persisted projection of an extracted document.
type Subject struct {
	SubjectID string
	TenantID  string
	Fields    map[string]any
}

// SubjectRepository is the system-of-record boundary. Upsert keys on
// SubjectID so replaying the persistence stage cannot create
// duplicates.
type SubjectRepository interface {
	UpsertSubject(ctx context.Context, subject Subject) error
	MarkProcessed(ctx context.Context, subjectID string) error
}

// CatalogClient is the commerce-platform boundary used by the draft,
// asset, and catalog-sync stages. EnsureDraft is idempotent per
// subject: repeated calls return the same draft.
type CatalogClient interface {
	EnsureDraft(ctx context.Context, tenantID, subjectID string, fields map[string]any) (draftID string, err error)
	AttachAssets(ctx context.Context, tenantID, draftID, subjectID string) ([]string, error)
	SyncDraft(ctx context.Context, tenantID, draftID string) error
}
