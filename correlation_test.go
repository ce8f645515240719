package pubsub

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCorrelationID(t *testing.T) {
	valid := []string{
		"ab",
		"req-123",
		"trace.abc_def",
		"a1-b2.c3_d4",
		strings.Repeat("x", MaxCorrelationIDLength),
	}
	for _, id := range valid {
		if err := ValidateCorrelationID(id); err != nil {
			t.Errorf("ValidateCorrelationID(%q): %v", id, err)
		}
	}

	invalid := []string{
		"",
		"a", // below minimum length
		strings.Repeat("x", MaxCorrelationIDLength+1),
		"-abc",
		"abc-",
		".abc",
		"abc.",
		"ab--cd",
		"ab..cd",
		"ab.-cd", // mixed separators still count as consecutive
		"ab_cd!",
		"ab cd",
	}
	for _, id := range invalid {
		if err := ValidateCorrelationID(id); !errors.Is(err, ErrInvalidCorrelationID) {
			t.Errorf("ValidateCorrelationID(%q): got %v, want ErrInvalidCorrelationID", id, err)
		}
	}
}

func TestValidateCorrelationIDWildcard(t *testing.T) {
	err := ValidateCorrelationID(CorrelationWildcard)
	if !errors.Is(err, ErrWildcardCorrelation) {
		t.Errorf("got %v, want ErrWildcardCorrelation", err)
	}
}

func TestIsValidCorrelationID(t *testing.T) {
	if !IsValidCorrelationID("req-123") {
		t.Error("req-123 should be valid")
	}
	if IsValidCorrelationID("*") {
		t.Error("wildcard should not be a valid id value")
	}
}

func TestNewCorrelationID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		if err := ValidateCorrelationID(id); err != nil {
			t.Fatalf("generated id %q invalid: %v", id, err)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("generated id %q repeated", id)
		}
		seen[id] = struct{}{}
	}
}
