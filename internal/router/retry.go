package router

import (
	"time"

	"docflow/internal/config"
	"docflow/internal/services"
)

// RetryPolicy controls how stage failures are retried before the job is
// parked in the dead-letter queue.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// PolicyFromConfig lifts the configured retry settings into a policy.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// base doubled for each prior attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Verdict is the policy's answer to a failed stage attempt.
type Verdict struct {
	Retry bool
	Delay time.Duration
	// Classification carries the error category for the dead-letter
	// entry or the failed record.
	Classification services.Classification
}

// OnFailure decides whether a failed attempt should be retried.
// Non-retryable categories and exhausted attempts both end in a
// dead-letter verdict; the Retry flag distinguishes the two paths for
// the executor.
func (p RetryPolicy) OnFailure(attempt int, err error) Verdict {
	class := services.Classify(err)
	if !class.Retryable || attempt >= p.MaxAttempts {
		return Verdict{Retry: false, Classification: class}
	}
	return Verdict{Retry: true, Delay: p.Backoff(attempt), Classification: class}
}
