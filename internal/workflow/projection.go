package workflow

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"docflow/internal/services"
)

// TenantState is the plain-language status surfaced to the originating
// tenant. Raw internal error text never leaks through this projection.
type TenantState string

const (
	TenantProcessing     TenantState = "processing"
	TenantNeedsReview    TenantState = "needs review"
	TenantCompleted      TenantState = "completed"
	TenantRetryAvailable TenantState = "failed — retry available"
	TenantActionRequired TenantState = "failed — action required"
)

// Project maps a record onto its tenant-facing state.
func Project(r *Record) TenantState {
	if r == nil {
		return TenantProcessing
	}
	switch r.Status {
	case StatusCompleted:
		return TenantCompleted
	case StatusCompletedNeedsReview:
		return TenantNeedsReview
	case StatusFailed:
		switch services.Category(r.ErrorCategory) {
		case services.CategoryAuth, services.CategoryValidation, services.CategoryLowConfidence:
			return TenantActionRequired
		default:
			return TenantRetryAvailable
		}
	default:
		return TenantProcessing
	}
}

var stageTitleCaser = cases.Title(language.English)

// StageLabel turns a stage name like "catalog_sync" into a display label.
func StageLabel(stage string) string {
	if stage == "" {
		return ""
	}
	return stageTitleCaser.String(strings.ReplaceAll(stage, "_", " "))
}
