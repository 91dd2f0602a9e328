package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrNetwork       = errors.New("network error")
	ErrThrottle      = errors.New("rate limited")
	ErrAuth          = errors.New("authorization error")
	ErrValidation    = errors.New("validation error")
	ErrLowConfidence = errors.New("extraction confidence too low")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
)

// Category names a failure class in the orchestrator taxonomy.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryThrottle      Category = "throttle"
	CategoryAuth          Category = "auth"
	CategoryValidation    Category = "validation"
	CategoryLowConfidence Category = "low-confidence"
	CategoryUnknown       Category = "unknown"
)

// Classification is the routing decision derived from a stage error.
type Classification struct {
	Category  Category
	Retryable bool
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a stage failure onto the taxonomy. Tagged errors win;
// untagged errors fall back to signal heuristics, and anything unrecognized
// is treated as retryable so the retry policy bounds the damage.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return Classification{Category: CategoryUnknown, Retryable: false}
	case errors.Is(err, ErrLowConfidence):
		return Classification{Category: CategoryLowConfidence, Retryable: false}
	case errors.Is(err, ErrAuth):
		return Classification{Category: CategoryAuth, Retryable: false}
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return Classification{Category: CategoryValidation, Retryable: false}
	case errors.Is(err, ErrThrottle):
		return Classification{Category: CategoryThrottle, Retryable: true}
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return Classification{Category: CategoryNetwork, Retryable: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Category: CategoryNetwork, Retryable: true}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "connection reset", "connection refused", "broken pipe", "i/o error", "eof"):
		return Classification{Category: CategoryNetwork, Retryable: true}
	case containsAny(msg, "rate limit", "too many requests", "429"):
		return Classification{Category: CategoryThrottle, Retryable: true}
	case containsAny(msg, "unauthorized", "forbidden", "permission denied", "invalid credentials", "401", "403"):
		return Classification{Category: CategoryAuth, Retryable: false}
	case containsAny(msg, "validation", "schema", "invalid payload", "malformed", "unprocessable"):
		return Classification{Category: CategoryValidation, Retryable: false}
	}

	return Classification{Category: CategoryUnknown, Retryable: true}
}

func containsAny(msg string, fragments ...string) bool {
	for _, fragment := range fragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
