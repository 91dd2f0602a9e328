package store

import "context"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS workflow_records (
        id TEXT PRIMARY KEY,
        subject_id TEXT NOT NULL,
        tenant_id TEXT NOT NULL,
        status TEXT NOT NULL,
        current_stage TEXT,
        stages_completed INTEGER NOT NULL DEFAULT 0,
        stages_total INTEGER NOT NULL DEFAULT 0,
        progress_percent REAL NOT NULL DEFAULT 0,
        metadata_json TEXT,
        error_message TEXT,
        error_category TEXT,
        needs_review INTEGER NOT NULL DEFAULT 0,
        review_reason TEXT,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL,
        completed_at TEXT,
        version INTEGER NOT NULL DEFAULT 1
    )`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_records_status ON workflow_records(status)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_records_subject ON workflow_records(subject_id)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_records_updated ON workflow_records(updated_at)`,
	`CREATE TABLE IF NOT EXISTS dead_letter_entries (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        workflow_id TEXT NOT NULL,
        stage_name TEXT NOT NULL,
        error_category TEXT NOT NULL,
        error_message TEXT,
        attempt_count INTEGER NOT NULL DEFAULT 0,
        first_failed_at TEXT NOT NULL,
        can_retry INTEGER NOT NULL DEFAULT 1,
        retried_at TEXT
    )`,
	`CREATE INDEX IF NOT EXISTS idx_dead_letter_workflow ON dead_letter_entries(workflow_id)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
