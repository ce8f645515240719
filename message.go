package pubsub

import (
	"fmt"
	"time"

	"github.com/driftvale/pubsub/codec"
)

// Message is an immutable event delivered to subscriber callbacks. Fields
// are fixed at construction; accessor maps are shared, callbacks must not
// mutate them.
type Message struct {
	topic         string
	data          map[string]any
	timestamp     time.Time
	metadata      map[string]any
	correlationID string
}

// MessageOption configures optional Message fields.
type MessageOption func(*Message)

// WithMetadata attaches metadata to the message.
func WithMetadata(metadata map[string]any) MessageOption {
	return func(m *Message) {
		m.metadata = metadata
	}
}

// WithTimestamp overrides the auto-generated timestamp. The timestamp is
// normalized to UTC.
func WithTimestamp(t time.Time) MessageOption {
	return func(m *Message) {
		m.timestamp = t.UTC()
	}
}

// WithCorrelation sets the message correlation id. The wildcard "*" is not
// a valid message value and fails construction.
func WithCorrelation(id string) MessageOption {
	return func(m *Message) {
		m.correlationID = id
	}
}

// NewMessage creates a message for a concrete topic. The topic must be a
// valid dot-separated name with no wildcards, and data must be non-nil (use
// an empty map for messages without payload). The timestamp defaults to the
// creation time in UTC.
func NewMessage(topic string, data map[string]any, opts ...MessageOption) (*Message, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNilData
	}
	m := &Message{
		topic: topic,
		data:  data,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.timestamp.IsZero() {
		m.timestamp = time.Now().UTC()
	}
	if m.metadata == nil {
		m.metadata = map[string]any{}
	}
	if m.correlationID != "" {
		if err := ValidateCorrelationID(m.correlationID); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Topic returns the topic the message was published to.
func (m *Message) Topic() string { return m.topic }

// Data returns the message payload.
func (m *Message) Data() map[string]any { return m.data }

// Timestamp returns the message creation time in UTC.
func (m *Message) Timestamp() time.Time { return m.timestamp }

// Metadata returns optional key-value metadata. Never nil.
func (m *Message) Metadata() map[string]any { return m.metadata }

// CorrelationID returns the correlation id stamped on the message.
func (m *Message) CorrelationID() string { return m.correlationID }

func (m *Message) String() string {
	return fmt.Sprintf("Message(topic=%q, correlation_id=%q, keys=%d)",
		m.topic, m.correlationID, len(m.data))
}

// messageRecord is the wire form used by codecs.
type messageRecord struct {
	Topic         string         `json:"topic" msgpack:"topic"`
	Data          map[string]any `json:"data" msgpack:"data"`
	Timestamp     time.Time      `json:"timestamp" msgpack:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty" msgpack:"correlation_id,omitempty"`
}

// Encode serializes the message with the given codec, for audit logs or
// hand-off to external systems. The bus itself never encodes messages.
func (m *Message) Encode(c codec.Codec) ([]byte, error) {
	return c.Encode(messageRecord{
		Topic:         m.topic,
		Data:          m.data,
		Timestamp:     m.timestamp,
		Metadata:      m.metadata,
		CorrelationID: m.correlationID,
	})
}

// DecodeMessage reverses Message.Encode. The decoded message is validated
// the same way NewMessage validates direct construction.
func DecodeMessage(c codec.Codec, data []byte) (*Message, error) {
	var rec messageRecord
	if err := c.Decode(data, &rec); err != nil {
		return nil, err
	}
	opts := []MessageOption{WithTimestamp(rec.Timestamp)}
	if rec.Metadata != nil {
		opts = append(opts, WithMetadata(rec.Metadata))
	}
	if rec.CorrelationID != "" {
		opts = append(opts, WithCorrelation(rec.CorrelationID))
	}
	return NewMessage(rec.Topic, rec.Data, opts...)
}
