// Package codec provides serialization for pub/sub messages leaving the
// process, e.g. audit logs or hand-off to external systems.
//
// Supported formats:
//   - JSON (default, human-readable)
//   - MessagePack (binary, compact)
package codec

import "errors"

// Codec errors
var (
	ErrEncodeFailure = errors.New("failed to encode value")
	ErrDecodeFailure = errors.New("failed to decode value")
)

// Codec handles value serialization/deserialization.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes a value to bytes.
	// Returns ErrEncodeFailure if serialization fails.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes into the value pointed to by v.
	// Returns ErrDecodeFailure if deserialization fails.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type for this codec (e.g., "application/json").
	ContentType() string

	// Name returns a short identifier for this codec (e.g., "json", "msgpack").
	Name() string
}

// Default returns the default codec (JSON)
func Default() Codec {
	return JSON{}
}

// ByName returns the codec registered under the given name, or nil if
// the name is unknown.
func ByName(name string) Codec {
	switch name {
	case "json":
		return JSON{}
	case "msgpack":
		return MsgPack{}
	}
	return nil
}
