package testsupport

import (
	"context"
	"fmt"
	"sync"

	"docflow/internal/stages"
)

// FakeProvider is an in-memory extraction provider. Confidence defaults to a
// value above any sensible auto-approve threshold.
type FakeProvider struct {
	mu         sync.Mutex
	Confidence float64
	Err        error
	calls      int
}

func (p *FakeProvider) Extract(_ context.Context, tenantID, subjectID string) (stages.Extraction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return stages.Extraction{}, p.Err
	}
	confidence := p.Confidence
	if confidence == 0 {
		confidence = 0.99
	}
	return stages.Extraction{
		Fields: map[string]any{
			"title":  fmt.Sprintf("Document %s", subjectID),
			"tenant": tenantID,
		},
		Confidence: confidence,
	}, nil
}

// Calls reports how many extractions ran.
func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// FakeRepo is an in-memory subject repository.
type FakeRepo struct {
	mu        sync.Mutex
	subjects  map[string]stages.Subject
	processed map[string]bool
}

func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		subjects:  make(map[string]stages.Subject),
		processed: make(map[string]bool),
	}
}

func (r *FakeRepo) UpsertSubject(_ context.Context, subject stages.Subject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects[subject.SubjectID] = subject
	return nil
}

func (r *FakeRepo) MarkProcessed(_ context.Context, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[subjectID] = true
	return nil
}

// Processed reports whether the subject completed its pipeline.
func (r *FakeRepo) Processed(subjectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed[subjectID]
}

// HasTerminalData satisfies the sweeper probe: a processed subject has
// terminal downstream data.
func (r *FakeRepo) HasTerminalData(_ context.Context, subjectID string) (bool, error) {
	return r.Processed(subjectID), nil
}

// FakeCatalog is an in-memory catalog client issuing deterministic draft IDs.
type FakeCatalog struct {
	mu     sync.Mutex
	drafts map[string]string
	synced map[string]bool
}

func NewFakeCatalog() *FakeCatalog {
	return &FakeCatalog{
		drafts: make(map[string]string),
		synced: make(map[string]bool),
	}
}

func (c *FakeCatalog) EnsureDraft(_ context.Context, _, subjectID string, _ map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.drafts[subjectID]; ok {
		return id, nil
	}
	id := fmt.Sprintf("draft-%s", subjectID)
	c.drafts[subjectID] = id
	return id, nil
}

func (c *FakeCatalog) AttachAssets(_ context.Context, _, draftID, subjectID string) ([]string, error) {
	return []string{fmt.Sprintf("%s/%s/front.png", draftID, subjectID)}, nil
}

func (c *FakeCatalog) SyncDraft(_ context.Context, _, draftID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced[draftID] = true
	return nil
}

// Synced reports whether the draft reached the catalog.
func (c *FakeCatalog) Synced(draftID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced[draftID]
}

// Collaborators bundles the fakes for registry construction.
func Collaborators(provider *FakeProvider, repo *FakeRepo, catalog *FakeCatalog) stages.Collaborators {
	return stages.Collaborators{
		Provider: provider,
		Repo:     repo,
		Catalog:  catalog,
	}
}
