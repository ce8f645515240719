package pubsub

import "log/slog"

// ErrorHandler receives errors recovered from subscriber callbacks together
// with the topic of the message being dispatched. Handlers must not panic:
// a panicking handler aborts delivery of the current message to its
// remaining subscribers (the worker then continues with the next queued
// message).
type ErrorHandler func(err error, topic string)

// DefaultErrorHandler logs the recovered error and topic at error level.
// It never panics.
func DefaultErrorHandler(err error, topic string) {
	slog.Error("subscriber callback failed", "topic", topic, "error", err)
}

// options holds configuration for a bus (unexported)
type options struct {
	name           string
	errorHandler   ErrorHandler
	correlationID  string
	logger         *slog.Logger
	tracingEnabled bool
	metricsEnabled bool
}

// Option is an option function for bus configuration
type Option func(*options)

// WithName sets the bus name used for logging and metric attribution.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithErrorHandler sets the handler invoked when a subscriber callback
// panics during dispatch. Defaults to DefaultErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		if h != nil {
			o.errorHandler = h
		}
	}
}

// WithCorrelationID sets the instance correlation id. Empty means
// auto-generate. The id is validated at construction time.
func WithCorrelationID(id string) Option {
	return func(o *options) {
		o.correlationID = id
	}
}

// WithLogger sets a custom logger for the bus
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracing enables/disables tracing for the bus
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables/disables metrics for the bus
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		name:           "pubsub",
		errorHandler:   DefaultErrorHandler,
		logger:         slog.Default(),
		tracingEnabled: true,
		metricsEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// subscribeOptions holds per-subscription configuration (unexported)
type subscribeOptions struct {
	correlation string
}

// SubscribeOption is a functional option for configuring subscriptions
type SubscribeOption func(*subscribeOptions)

// WithCorrelationFilter sets the subscription's correlation filter.
//
// Values:
//   - "" (default): filter on the bus instance's own correlation id
//   - CorrelationWildcard ("*"): receive messages with any correlation id
//   - any other string: exact match, validated as a correlation id
func WithCorrelationFilter(id string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.correlation = id
	}
}

func applySubscribeOptions(opts ...SubscribeOption) *subscribeOptions {
	o := &subscribeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
