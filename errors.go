package pubsub

import (
	"errors"
	"fmt"
)

// Engine errors.
// Use errors.Is() to check for these as they may be wrapped with additional
// context describing the offending topic, id, or scope.
var (
	// ErrShutdown indicates a mutating call on a bus or aggregator that has
	// already been shut down.
	ErrShutdown = errors.New("has been shutdown")

	// ErrEmptyTopic indicates an empty topic or topic filter.
	ErrEmptyTopic = errors.New("topic cannot be empty")

	// ErrInvalidTopic indicates a malformed topic or topic filter.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrInvalidPattern indicates a topic filter that failed pattern
	// compilation. Compilation failures carry a *PatternError that unwraps
	// to this sentinel.
	ErrInvalidPattern = errors.New("invalid topic pattern")

	// ErrInvalidCorrelationID indicates a correlation id outside the
	// accepted syntax (2-64 chars, dot/dash/underscore separators).
	ErrInvalidCorrelationID = errors.New("invalid correlation id")

	// ErrWildcardCorrelation indicates the wildcard "*" used where a
	// concrete correlation id is required, e.g. stamped onto a published
	// message. The wildcard is a subscribe-time filter only.
	ErrWildcardCorrelation = errors.New(`correlation id "*" is reserved for subscription filters`)

	// ErrNilCallback indicates a nil subscriber callback.
	ErrNilCallback = errors.New("callback cannot be nil")

	// ErrNilData indicates a nil message payload. Use an empty map to
	// publish a message with no data.
	ErrNilData = errors.New("message data cannot be nil")

	// ErrUnknownSubscriber indicates an unsubscribe for a (topic, id) pair
	// that is not currently registered.
	ErrUnknownSubscriber = errors.New("subscriber not found")

	// ErrNilBus indicates a nil *Bus passed to an aggregator.
	ErrNilBus = errors.New("bus cannot be nil")

	// ErrAlreadyManaged indicates a bus added twice to the same aggregator.
	ErrAlreadyManaged = errors.New("bus is already managed by this aggregator")

	// ErrNotManaged indicates a remove for a bus the aggregator does not manage.
	ErrNotManaged = errors.New("bus is not managed by this aggregator")

	// ErrEmptyScope indicates an empty scope name passed to a scope registry.
	ErrEmptyScope = errors.New("scope cannot be empty")
)

// PatternError describes a topic filter that failed to compile.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid topic pattern %q: %s", e.Pattern, e.Reason)
}

// Unwrap reports PatternError as a specialization of ErrInvalidPattern.
func (e *PatternError) Unwrap() error {
	return ErrInvalidPattern
}

// IsPatternError checks if an error carries a pattern compilation failure.
func IsPatternError(err error) bool {
	var pe *PatternError
	return errors.As(err, &pe)
}
