// Package router holds the pure decision logic shared by both
// executors: the confidence gate applied after extraction and the
// retry policy applied to stage failures. Keeping these free of store
// and broker dependencies makes the branching rules trivially testable.
package router

import (
	"docflow/internal/config"
)

// GateOutcome is the branch taken after an extraction completes.
type GateOutcome int

const (
	// AutoApprove continues the pipeline unattended.
	AutoApprove GateOutcome = iota
	// ManualReview continues the pipeline but flags the workflow so a
	// human verifies the result before it is trusted downstream.
	ManualReview
	// Reject stops the pipeline; the extraction is too unreliable to
	// act on at all.
	Reject
)

func (o GateOutcome) String() string {
	switch o {
	case AutoApprove:
		return "auto-approve"
	case ManualReview:
		return "manual-review"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Gate evaluates extraction confidence against the configured cutoffs.
type Gate struct {
	autoApprove float64
	reject      float64
}

// NewGate builds a gate from configuration. The config validator has
// already ensured reject < autoApprove.
func NewGate(cfg config.Gate) Gate {
	return Gate{autoApprove: cfg.AutoApproveThreshold, reject: cfg.RejectThreshold}
}

// Evaluate maps a confidence score to a branch. Scores at or above the
// auto-approve cutoff pass unattended; scores below the reject cutoff
// stop the workflow; everything between continues under review.
func (g Gate) Evaluate(confidence float64) GateOutcome {
	switch {
	case confidence >= g.autoApprove:
		return AutoApprove
	case confidence < g.reject:
		return Reject
	default:
		return ManualReview
	}
}
