package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Aggregator funnels the traffic of many source buses into one internal
// bus. Every message published on a managed source is re-published on the
// internal bus with its topic, data, metadata, and correlation id intact,
// so a single subscription observes all sources at once.
//
// Forwarding is strictly one-way: messages published directly on the
// aggregator never reach the managed sources.
type Aggregator struct {
	bus *Bus

	mu      sync.Mutex
	managed map[*Bus]string // source bus -> forwarding subscription id
}

// NewAggregator creates an aggregator with a fresh internal bus. Options
// configure the internal bus.
func NewAggregator(opts ...Option) (*Aggregator, error) {
	bus, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		bus:     bus,
		managed: make(map[*Bus]string),
	}, nil
}

// NewAggregatorWith creates an aggregator already managing the given
// buses. On any AddBus failure the aggregator is shut down and the error
// returned; sources added before the failure are released again.
func NewAggregatorWith(buses []*Bus, opts ...Option) (*Aggregator, error) {
	a, err := NewAggregator(opts...)
	if err != nil {
		return nil, err
	}
	for _, bus := range buses {
		if err := a.AddBus(bus); err != nil {
			a.Shutdown()
			return nil, err
		}
	}
	return a, nil
}

// Bus returns the internal bus carrying the aggregated stream.
func (a *Aggregator) Bus() *Bus { return a.bus }

// AddBus places a source bus under management: a wildcard forwarding hook
// is installed on it and its future traffic appears on the internal bus.
// Fails with ErrNilBus for nil, ErrShutdown when either side is already
// shut down, and ErrAlreadyManaged when the bus is managed.
func (a *Aggregator) AddBus(bus *Bus) error {
	if bus == nil {
		return ErrNilBus
	}
	if a.bus.IsShutdown() {
		return fmt.Errorf("aggregator %w", ErrShutdown)
	}
	if bus.IsShutdown() {
		return fmt.Errorf("bus %w", ErrShutdown)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.managed[bus]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyManaged, bus.Name())
	}
	id, err := bus.Subscribe(Wildcard, a.forward,
		WithCorrelationFilter(CorrelationWildcard))
	if err != nil {
		return err
	}
	a.managed[bus] = id
	a.bus.logger.Debug("bus added to aggregator", "source", bus.Name())
	return nil
}

// RemoveBus releases a source bus: the forwarding hook is removed and its
// traffic stops appearing on the internal bus. Fails with ErrNotManaged
// when the bus is not under management. A source that was shut down while
// managed is released without error.
func (a *Aggregator) RemoveBus(bus *Bus) error {
	if bus == nil {
		return ErrNilBus
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.managed[bus]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotManaged, bus.Name())
	}
	delete(a.managed, bus)
	if err := bus.Unsubscribe(Wildcard, id); err != nil {
		// Shutdown already cleared the source's registry.
		a.bus.logger.Warn("forwarding hook already gone", "source", bus.Name(), "error", err)
	}
	return nil
}

// ManagedBuses returns a snapshot of the source buses under management,
// ordered by name.
func (a *Aggregator) ManagedBuses() []*Bus {
	a.mu.Lock()
	buses := make([]*Bus, 0, len(a.managed))
	for bus := range a.managed {
		buses = append(buses, bus)
	}
	a.mu.Unlock()
	sort.Slice(buses, func(i, j int) bool {
		return buses[i].Name() < buses[j].Name()
	})
	return buses
}

// forward re-publishes a source message on the internal bus. The internal
// bus racing into shutdown is tolerated; any other publish failure is
// surfaced through the internal bus's error handler.
func (a *Aggregator) forward(msg *Message) {
	err := a.bus.Publish(msg.Topic(), msg.Data(),
		WithMetadata(msg.Metadata()),
		WithCorrelation(msg.CorrelationID()))
	if err != nil && !errors.Is(err, ErrShutdown) {
		a.bus.errorHandler(err, msg.Topic())
	}
}

// Subscribe registers a callback on the aggregated stream.
func (a *Aggregator) Subscribe(topic string, callback Callback, opts ...SubscribeOption) (string, error) {
	return a.bus.Subscribe(topic, callback, opts...)
}

// On returns a registration function for the aggregated stream.
func (a *Aggregator) On(topic string, opts ...SubscribeOption) func(Callback) (string, error) {
	return a.bus.On(topic, opts...)
}

// Unsubscribe removes a subscription from the aggregated stream.
func (a *Aggregator) Unsubscribe(topic, id string) error {
	return a.bus.Unsubscribe(topic, id)
}

// Publish publishes directly on the internal bus. The message stays on the
// aggregated stream; it is never pushed down to managed sources.
func (a *Aggregator) Publish(topic string, data map[string]any, opts ...MessageOption) error {
	return a.bus.Publish(topic, data, opts...)
}

// Clear removes subscriptions from the internal bus.
func (a *Aggregator) Clear(topics ...string) error {
	return a.bus.Clear(topics...)
}

// CorrelationID returns the internal bus correlation id.
func (a *Aggregator) CorrelationID() string { return a.bus.CorrelationID() }

// IsShutdown reports whether the internal bus has been shut down.
func (a *Aggregator) IsShutdown() bool { return a.bus.IsShutdown() }

// Drain waits for the internal bus to go idle. Managed sources are not
// touched; see DrainCascade.
func (a *Aggregator) Drain(ctx context.Context) bool {
	return a.bus.Drain(ctx)
}

// DrainCascade drains every managed source and then the internal bus, so
// messages in flight on a source have been forwarded before the internal
// drain is judged. Reports whether everything went idle in time.
func (a *Aggregator) DrainCascade(ctx context.Context) bool {
	ok := true
	for _, bus := range a.ManagedBuses() {
		if !bus.Drain(ctx) {
			ok = false
		}
	}
	if !a.bus.Drain(ctx) {
		ok = false
	}
	return ok
}

// Shutdown removes the forwarding hooks from every managed source and
// shuts down the internal bus. The sources keep running. Idempotent.
func (a *Aggregator) Shutdown() {
	a.mu.Lock()
	for bus, id := range a.managed {
		if err := bus.Unsubscribe(Wildcard, id); err != nil {
			a.bus.logger.Warn("forwarding hook already gone", "source", bus.Name(), "error", err)
		}
	}
	a.managed = make(map[*Bus]string)
	a.mu.Unlock()
	a.bus.Shutdown()
}

// ShutdownCascade shuts down every managed source as well as the
// aggregator itself.
func (a *Aggregator) ShutdownCascade() {
	buses := a.ManagedBuses()
	a.Shutdown()
	for _, bus := range buses {
		bus.Shutdown()
	}
}
