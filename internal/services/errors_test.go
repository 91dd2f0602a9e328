package services_test

import (
	"errors"
	"strings"
	"testing"

	"docflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrNetwork, "extract", "call provider", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"extract", "call provider", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassifyTaggedErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		category  services.Category
		retryable bool
	}{
		{"network", services.Wrap(services.ErrNetwork, "extract", "", "", nil), services.CategoryNetwork, true},
		{"throttle", services.Wrap(services.ErrThrottle, "catalog_sync", "", "", nil), services.CategoryThrottle, true},
		{"auth", services.Wrap(services.ErrAuth, "catalog_sync", "", "", nil), services.CategoryAuth, false},
		{"validation", services.Wrap(services.ErrValidation, "persist", "", "", nil), services.CategoryValidation, false},
		{"low-confidence", services.Wrap(services.ErrLowConfidence, "extract", "", "", nil), services.CategoryLowConfidence, false},
	}
	for _, tc := range cases {
		got := services.Classify(tc.err)
		if got.Category != tc.category {
			t.Fatalf("%s: expected category %s, got %s", tc.name, tc.category, got.Category)
		}
		if got.Retryable != tc.retryable {
			t.Fatalf("%s: expected retryable=%v", tc.name, tc.retryable)
		}
	}
}

func TestClassifySignalHeuristics(t *testing.T) {
	if got := services.Classify(errors.New("dial tcp: connection reset by peer")); got.Category != services.CategoryNetwork || !got.Retryable {
		t.Fatalf("expected retryable network classification, got %+v", got)
	}
	if got := services.Classify(errors.New("429 too many requests")); got.Category != services.CategoryThrottle {
		t.Fatalf("expected throttle classification, got %+v", got)
	}
	if got := services.Classify(errors.New("401 unauthorized")); got.Retryable {
		t.Fatalf("auth failures must not be retryable, got %+v", got)
	}
	if got := services.Classify(errors.New("schema mismatch on field total")); got.Retryable {
		t.Fatalf("validation failures must not be retryable, got %+v", got)
	}
}

func TestClassifyUnknownIsRetryable(t *testing.T) {
	got := services.Classify(errors.New("something odd happened"))
	if got.Category != services.CategoryUnknown || !got.Retryable {
		t.Fatalf("unrecognized errors should be conservatively retryable, got %+v", got)
	}
}
