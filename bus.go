package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Bus status
	statusRunning int32 = iota
	statusShutdown
)

// drainPollInterval is how often Drain re-checks the queue.
const drainPollInterval = time.Millisecond

// Bus is an asynchronous in-process publish/subscribe message bus.
//
// Publish enqueues and returns immediately; a single background worker
// dequeues messages one at a time and invokes matching subscriber callbacks
// sequentially in registration order. The bus lock is never held while a
// callback runs, so callbacks may freely call back into the bus
// (subscribe, publish, unsubscribe) without deadlocking.
type Bus struct {
	name          string
	correlationID string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Message
	inflight int
	table    *subscriberTable
	seq      uint64
	seen     map[string]struct{}

	status       int32
	done         chan struct{}
	errorHandler ErrorHandler
	logger       *slog.Logger

	tracingEnabled bool
	metricsEnabled bool
	tracer         trace.Tracer
	published      metric.Int64Counter
	delivered      metric.Int64Counter
	dropped        metric.Int64Counter
}

// New creates a bus and starts its dispatch worker.
//
// An explicit correlation id set with WithCorrelationID is validated; when
// none is given a fresh one is generated. The returned bus must be released
// with Shutdown.
func New(opts ...Option) (*Bus, error) {
	o := newOptions(opts...)
	correlationID := o.correlationID
	if correlationID == "" {
		correlationID = NewCorrelationID()
	} else if err := ValidateCorrelationID(correlationID); err != nil {
		return nil, err
	}

	b := &Bus{
		name:           o.name,
		correlationID:  correlationID,
		table:          newSubscriberTable(),
		seen:           map[string]struct{}{correlationID: {}},
		done:           make(chan struct{}),
		errorHandler:   o.errorHandler,
		logger:         o.logger.With("component", "bus", "bus", o.name),
		tracingEnabled: o.tracingEnabled,
		metricsEnabled: o.metricsEnabled,
	}
	b.cond = sync.NewCond(&b.mu)

	if b.tracingEnabled {
		b.tracer = otel.Tracer(b.name)
	}
	if b.metricsEnabled {
		meter := otel.Meter(b.name)
		var err error
		if b.published, err = meter.Int64Counter("pubsub.published",
			metric.WithDescription("Messages accepted by Publish")); err != nil {
			b.logger.Warn("failed to create counter", "error", err)
		}
		if b.delivered, err = meter.Int64Counter("pubsub.delivered",
			metric.WithDescription("Callback invocations completed")); err != nil {
			b.logger.Warn("failed to create counter", "error", err)
		}
		if b.dropped, err = meter.Int64Counter("pubsub.dropped",
			metric.WithDescription("Messages dequeued with no matching subscriber")); err != nil {
			b.logger.Warn("failed to create counter", "error", err)
		}
	}

	go b.dispatchLoop()
	b.logger.Debug("bus started", "correlation_id", correlationID)
	return b, nil
}

// Name returns the bus name used for logging and metric attribution.
func (b *Bus) Name() string { return b.name }

// CorrelationID returns the bus instance correlation id. It stamps every
// published message that does not carry its own, and is the default
// subscription filter.
func (b *Bus) CorrelationID() string { return b.correlationID }

// IsShutdown reports whether Shutdown has been called.
func (b *Bus) IsShutdown() bool {
	return atomic.LoadInt32(&b.status) == statusShutdown
}

// Subscribe registers a callback for a topic filter and returns the
// subscription id used to unsubscribe.
//
// The filter is either a pattern over concrete dot-separated topics
// (segment wildcards "*" and "?" allowed) or the bare Wildcard "*", which
// matches every topic. Messages are additionally filtered by correlation
// id; see WithCorrelationFilter for the filter values.
func (b *Bus) Subscribe(topic string, callback Callback, opts ...SubscribeOption) (string, error) {
	if b.IsShutdown() {
		return "", fmt.Errorf("bus %w", ErrShutdown)
	}
	if callback == nil {
		return "", ErrNilCallback
	}
	var filter *TopicPattern
	if topic != Wildcard {
		p, err := CompilePattern(topic)
		if err != nil {
			return "", err
		}
		filter = p
	}
	so := applySubscribeOptions(opts...)
	correlation := so.correlation
	switch correlation {
	case "":
		correlation = b.correlationID
	case CorrelationWildcard:
		// match everything
	default:
		if err := ValidateCorrelationID(correlation); err != nil {
			return "", err
		}
	}

	sub := &subscription{
		id:          newID(),
		filter:      filter,
		correlation: correlation,
		callback:    callback,
	}

	b.mu.Lock()
	if b.IsShutdown() {
		b.mu.Unlock()
		return "", fmt.Errorf("bus %w", ErrShutdown)
	}
	sub.seq = b.seq
	b.seq++
	b.table.add(topic, sub)
	b.mu.Unlock()

	b.logger.Debug("subscribed", "topic", topic, "subscription_id", sub.id)
	return sub.id, nil
}

// On returns a registration function for the given topic filter, for use
// as handler-wiring sugar:
//
//	id, err := bus.On("orders.*")(handleOrder)
func (b *Bus) On(topic string, opts ...SubscribeOption) func(Callback) (string, error) {
	return func(callback Callback) (string, error) {
		return b.Subscribe(topic, callback, opts...)
	}
}

// Handle registers a callback and discards the subscription id, for
// subscriptions that live as long as the bus.
func (b *Bus) Handle(topic string, callback Callback, opts ...SubscribeOption) error {
	_, err := b.Subscribe(topic, callback, opts...)
	return err
}

// Unsubscribe removes the subscription with the given id from the given
// topic filter. It fails with ErrUnknownSubscriber when the id is not
// registered under that filter (including when it was already removed).
func (b *Bus) Unsubscribe(topic, id string) error {
	if b.IsShutdown() {
		return fmt.Errorf("bus %w", ErrShutdown)
	}
	b.mu.Lock()
	err := b.table.remove(topic, id)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.logger.Debug("unsubscribed", "topic", topic, "subscription_id", id)
	return nil
}

// Clear removes subscriptions. With no arguments every subscription goes,
// including wildcard ones; otherwise each named filter's bucket is cleared.
// Clearing a filter with no subscribers is a no-op.
func (b *Bus) Clear(topics ...string) error {
	if b.IsShutdown() {
		return fmt.Errorf("bus %w", ErrShutdown)
	}
	b.mu.Lock()
	if len(topics) == 0 {
		b.table.removeAll("")
	} else {
		for _, topic := range topics {
			b.table.removeAll(topic)
		}
	}
	b.mu.Unlock()
	return nil
}

// Publish enqueues a message for asynchronous dispatch and returns
// immediately. Messages without an explicit correlation id are stamped
// with the bus instance id; the wildcard "*" is rejected as a message
// value. Delivery order is strict FIFO per bus.
func (b *Bus) Publish(topic string, data map[string]any, opts ...MessageOption) error {
	if b.IsShutdown() {
		return fmt.Errorf("bus %w", ErrShutdown)
	}

	staged := &Message{}
	for _, opt := range opts {
		opt(staged)
	}
	if staged.correlationID == "" {
		opts = append(opts, WithCorrelation(b.correlationID))
	}
	msg, err := NewMessage(topic, data, opts...)
	if err != nil {
		return err
	}

	if b.tracingEnabled && b.tracer != nil {
		_, span := b.tracer.Start(context.Background(), "pubsub.publish",
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(
				attribute.String("messaging.destination", topic),
				attribute.String("messaging.correlation_id", msg.CorrelationID()),
			))
		defer span.End()
	}

	b.mu.Lock()
	if b.IsShutdown() {
		b.mu.Unlock()
		return fmt.Errorf("bus %w", ErrShutdown)
	}
	b.seen[msg.CorrelationID()] = struct{}{}
	b.queue = append(b.queue, msg)
	b.cond.Signal()
	b.mu.Unlock()

	if b.metricsEnabled && b.published != nil {
		b.published.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("topic", topic)))
	}
	return nil
}

// Drain blocks until the queue is empty and no message is mid-dispatch,
// or the context is done. It reports whether the bus went idle. A shut
// down bus is idle by definition.
func (b *Bus) Drain(ctx context.Context) bool {
	for {
		if b.IsShutdown() {
			return true
		}
		b.mu.Lock()
		idle := len(b.queue) == 0 && b.inflight == 0
		b.mu.Unlock()
		if idle {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(drainPollInterval):
		}
	}
}

// Shutdown stops the bus: the subscriber registry and the pending queue
// are cleared, the worker exits, and every further mutating call fails
// with ErrShutdown. A message already mid-dispatch finishes its current
// callbacks. Shutdown is idempotent and safe to call concurrently, but
// must not be called from inside a subscriber callback: it waits for the
// dispatch worker to exit.
func (b *Bus) Shutdown() {
	if !atomic.CompareAndSwapInt32(&b.status, statusRunning, statusShutdown) {
		return
	}
	b.mu.Lock()
	b.queue = nil
	b.table.removeAll("")
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
	b.logger.Debug("bus shut down")
}

// CorrelationIDs returns a copy of every correlation id the bus has seen:
// the instance id plus the id of every accepted publish.
func (b *Bus) CorrelationIDs() []string {
	b.mu.Lock()
	ids := make([]string, 0, len(b.seen))
	for id := range b.seen {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Topics returns the topic filters that currently have pattern
// subscriptions. Wildcard subscriptions are not included; see
// WildcardSubscribers.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	topics := make([]string, 0, len(b.table.buckets))
	for topic := range b.table.buckets {
		topics = append(topics, topic)
	}
	b.mu.Unlock()
	sort.Strings(topics)
	return topics
}

// Subscribers returns the subscription ids per topic filter, a snapshot
// safe for the caller to keep.
func (b *Bus) Subscribers() map[string][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table.ids()
}

// WildcardSubscribers returns the ids of bare-wildcard subscriptions.
func (b *Bus) WildcardSubscribers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table.wildcardIDs()
}

// dispatchLoop is the single worker goroutine. It dequeues one message at
// a time, snapshots the matching subscribers at dequeue time, and invokes
// them sequentially with the lock released.
func (b *Bus) dispatchLoop() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.IsShutdown() {
			b.cond.Wait()
		}
		if b.IsShutdown() {
			b.mu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		subs := b.table.snapshot(msg)
		b.inflight++
		b.mu.Unlock()

		b.deliver(msg, subs)

		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}
}

// deliver invokes the snapshot of subscribers for one message. A panic in
// a callback is recovered per callback and routed to the error handler; a
// panic in the error handler itself is recovered here, logged, and aborts
// delivery to the remaining subscribers of this message only.
func (b *Bus) deliver(msg *Message, subs []*subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("error handler panicked, message abandoned",
				"topic", msg.Topic(), "panic", r)
		}
	}()

	if b.tracingEnabled && b.tracer != nil {
		_, span := b.tracer.Start(context.Background(), "pubsub.dispatch",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.destination", msg.Topic()),
				attribute.Int("messaging.subscriber_count", len(subs)),
			))
		defer span.End()
	}

	if len(subs) == 0 {
		if b.metricsEnabled && b.dropped != nil {
			b.dropped.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("topic", msg.Topic())))
		}
		return
	}
	for _, sub := range subs {
		b.invoke(msg, sub)
		if b.metricsEnabled && b.delivered != nil {
			b.delivered.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("topic", msg.Topic())))
		}
	}
}

// invoke runs a single callback with panic recovery. The recovered value
// becomes an error for the handler, so one failing subscriber never
// affects the others.
func (b *Bus) invoke(msg *Message, sub *subscription) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("callback panic: %v", r)
			}
			b.errorHandler(err, msg.Topic())
		}
	}()
	sub.callback(msg)
}
