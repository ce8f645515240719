package pubsub

import (
	"fmt"
	"strings"
)

// TopicSeparator splits topics into segments.
const TopicSeparator = "."

// Wildcard is the subscription-time sentinel topic that matches every
// published topic regardless of segment count. It is handled as a dedicated
// registry bucket and is distinct from the per-segment "*" wildcard, which
// matches exactly one segment.
const Wildcard = "*"

// TopicPattern is a compiled topic filter. A pattern is a dot-separated list
// of segments; within a segment "*" matches any non-empty segment content and
// "?" matches exactly one character. Wildcards never cross segment
// boundaries: "user.*" matches "user.created" but not "user.created.v2".
// Matching is case-sensitive and pure.
type TopicPattern struct {
	pattern  string
	segments []string
	exact    bool
}

// CompilePattern compiles a topic filter string into a TopicPattern.
// Returns ErrEmptyTopic for the empty string, otherwise a *PatternError
// (unwrapping to ErrInvalidPattern) if the pattern starts or ends with a
// separator, contains consecutive separators, or contains characters
// outside [A-Za-z0-9_.\-*?].
func CompilePattern(pattern string) (*TopicPattern, error) {
	if pattern == "" {
		return nil, ErrEmptyTopic
	}
	if strings.HasPrefix(pattern, TopicSeparator) || strings.HasSuffix(pattern, TopicSeparator) {
		return nil, &PatternError{Pattern: pattern, Reason: "pattern cannot start or end with a separator"}
	}
	if strings.Contains(pattern, TopicSeparator+TopicSeparator) {
		return nil, &PatternError{Pattern: pattern, Reason: "pattern cannot contain consecutive dots"}
	}
	exact := true
	for i := 0; i < len(pattern); i++ {
		b := pattern[i]
		switch {
		case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		case b == '-', b == '_', b == '.':
		case b == '*', b == '?':
			exact = false
		default:
			return nil, &PatternError{Pattern: pattern, Reason: fmt.Sprintf("invalid character %q", b)}
		}
	}
	return &TopicPattern{
		pattern:  pattern,
		segments: strings.Split(pattern, TopicSeparator),
		exact:    exact,
	}, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
// Intended for patterns known valid at compile time.
func MustCompilePattern(pattern string) *TopicPattern {
	p, err := CompilePattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Pattern returns the pattern string verbatim.
func (p *TopicPattern) Pattern() string {
	return p.pattern
}

// IsExact reports whether the pattern contains no wildcards.
func (p *TopicPattern) IsExact() bool {
	return p.exact
}

func (p *TopicPattern) String() string {
	if p.exact {
		return fmt.Sprintf("TopicPattern(%q, exact)", p.pattern)
	}
	return fmt.Sprintf("TopicPattern(%q, wildcard)", p.pattern)
}

// Matches reports whether a concrete topic matches the pattern.
// Segment counts must match exactly; empty topics never match.
func (p *TopicPattern) Matches(topic string) bool {
	if topic == "" {
		return false
	}
	if p.exact {
		return topic == p.pattern
	}
	segments := strings.Split(topic, TopicSeparator)
	if len(segments) != len(p.segments) {
		return false
	}
	for i, ps := range p.segments {
		if !segmentMatches(ps, segments[i]) {
			return false
		}
	}
	return true
}

// segmentMatches matches one pattern segment against one topic segment.
// "*" as the whole pattern segment matches any non-empty content; otherwise
// "?" matches one character and everything else matches literally.
func segmentMatches(pattern, segment string) bool {
	if pattern == "*" {
		return segment != ""
	}
	if len(pattern) != len(segment) {
		return false
	}
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '?' {
			continue
		}
		if pattern[i] != segment[i] {
			return false
		}
	}
	return true
}

// ValidateTopic checks a concrete publish topic: same syntax as a pattern
// but wildcards are not allowed. Returns an error wrapping ErrEmptyTopic or
// ErrInvalidTopic.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if strings.ContainsAny(topic, "*?") {
		return fmt.Errorf("%w: %q contains wildcard characters", ErrInvalidTopic, topic)
	}
	if _, err := CompilePattern(topic); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a subscription topic filter: either the
// Wildcard sentinel or a compilable pattern.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	if filter == Wildcard {
		return nil
	}
	_, err := CompilePattern(filter)
	return err
}
