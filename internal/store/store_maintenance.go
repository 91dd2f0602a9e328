package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docflow/internal/workflow"
)

// HealthSummary describes aggregated workflow counts per key lifecycle state.
type HealthSummary struct {
	Total       int
	Pending     int
	Processing  int
	Completed   int
	NeedsReview int
	Failed      int
	DeadLetters int
}

// Stats returns a count of workflow records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[workflow.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM workflow_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("workflow stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[workflow.Status]int)
	for rows.Next() {
		var status workflow.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates store state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case workflow.StatusPending:
			health.Pending += count
		case workflow.StatusProcessing:
			health.Processing += count
		case workflow.StatusCompleted:
			health.Completed += count
		case workflow.StatusCompletedNeedsReview:
			health.NeedsReview += count
		case workflow.StatusFailed:
			health.Failed += count
		}
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM dead_letter_entries WHERE retried_at IS NULL`)
	if err := row.Scan(&health.DeadLetters); err != nil {
		return health, fmt.Errorf("count dead letters: %w", err)
	}
	return health, nil
}

// Ping verifies the database connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store connection unavailable")
	}
	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	return s.db.PingContext(connCtx)
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}
