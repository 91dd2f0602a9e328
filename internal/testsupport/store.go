package testsupport

import (
	"context"
	"testing"

	"docflow/internal/config"
	"docflow/internal/store"
	"docflow/internal/workflow"
)

// MustOpenStore opens a workflow store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewWorkflow creates a pending workflow record for tests.
func NewWorkflow(t testing.TB, st *store.Store, subjectID, tenantID string, stagesTotal int) *workflow.Record {
	t.Helper()

	rec := &workflow.Record{
		SubjectID:   subjectID,
		TenantID:    tenantID,
		StagesTotal: stagesTotal,
	}
	if err := st.CreateRecord(context.Background(), rec); err != nil {
		t.Fatalf("store.CreateRecord: %v", err)
	}
	return rec
}
