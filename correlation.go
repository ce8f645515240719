package pubsub

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// CorrelationWildcard is the subscribe-time correlation filter that matches
// every correlation id. It is never a valid value on a published message.
const CorrelationWildcard = "*"

// Correlation id length bounds for explicitly supplied ids. Auto-generated
// ids are UUIDs and always satisfy the bounds.
const (
	MinCorrelationIDLength = 2
	MaxCorrelationIDLength = 64
)

func isCorrelationSeparator(b byte) bool {
	return b == '.' || b == '-' || b == '_'
}

// ValidateCorrelationID checks an explicit correlation id value: 2-64
// characters drawn from letters, digits and the separators dot, dash and
// underscore; no leading or trailing separator; no consecutive separators
// (mixed separators included). The wildcard "*" is rejected here because it
// is a filter, not a value. Returns an error wrapping
// ErrInvalidCorrelationID or ErrWildcardCorrelation.
func ValidateCorrelationID(value string) error {
	if value == "" {
		return fmt.Errorf("%w: empty string", ErrInvalidCorrelationID)
	}
	if value == CorrelationWildcard {
		return ErrWildcardCorrelation
	}
	if len(value) < MinCorrelationIDLength || len(value) > MaxCorrelationIDLength {
		return fmt.Errorf("%w: length must be between %d and %d, got %d",
			ErrInvalidCorrelationID, MinCorrelationIDLength, MaxCorrelationIDLength, len(value))
	}
	if isCorrelationSeparator(value[0]) || isCorrelationSeparator(value[len(value)-1]) {
		return fmt.Errorf("%w: %q does not match the correlation id pattern (leading/trailing separator)",
			ErrInvalidCorrelationID, value)
	}
	for i := 0; i < len(value); i++ {
		b := value[i]
		switch {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		case isCorrelationSeparator(b):
			if i > 0 && isCorrelationSeparator(value[i-1]) {
				return fmt.Errorf("%w: %q contains consecutive separators",
					ErrInvalidCorrelationID, value)
			}
		default:
			return fmt.Errorf("%w: %q does not match the correlation id pattern (character %q)",
				ErrInvalidCorrelationID, value, b)
		}
	}
	return nil
}

// IsValidCorrelationID is the non-throwing probe form of
// ValidateCorrelationID.
func IsValidCorrelationID(value string) bool {
	return ValidateCorrelationID(value) == nil
}

// NewCorrelationID generates a fresh correlation id.
func NewCorrelationID() string {
	return newID()
}

// ID generation counter, fallback when uuid generation fails.
var idCounter uint64

// newID generates a new unique ID
func newID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return "id-" + strconv.FormatUint(atomic.AddUint64(&idCounter, 1), 10)
}
