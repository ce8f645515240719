package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestAggregator(t *testing.T, opts ...Option) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(agg.Shutdown)
	return agg
}

func drainCascade(t *testing.T, agg *Aggregator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !agg.DrainCascade(ctx) {
		t.Fatal("aggregator did not drain")
	}
}

func TestAggregatorForwarding(t *testing.T) {
	agg := newTestAggregator(t)
	source := newTestBus(t, WithName("source"), WithCorrelationID("src-1"))
	if err := agg.AddBus(source); err != nil {
		t.Fatal(err)
	}

	ch := make(chan *Message, 1)
	if _, err := agg.Subscribe("orders.*", func(msg *Message) { ch <- msg },
		WithCorrelationFilter(CorrelationWildcard)); err != nil {
		t.Fatal(err)
	}

	meta := map[string]any{"region": "eu"}
	if err := source.Publish("orders.created", map[string]any{"id": "42"},
		WithMetadata(meta)); err != nil {
		t.Fatal(err)
	}

	msg, ok := waitForMessage(ch, waitChTimeoutMS)
	if !ok {
		t.Fatal("message never reached the aggregated stream")
	}
	if msg.Topic() != "orders.created" {
		t.Errorf("Topic() = %q", msg.Topic())
	}
	if diff := cmp.Diff(map[string]any{"id": "42"}, msg.Data()); diff != "" {
		t.Errorf("Data() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(meta, msg.Metadata()); diff != "" {
		t.Errorf("Metadata() mismatch (-want +got):\n%s", diff)
	}
	// the source correlation id survives the hop
	if msg.CorrelationID() != "src-1" {
		t.Errorf("CorrelationID() = %q, want src-1", msg.CorrelationID())
	}
}

func TestAggregatorForwardingIsOneWay(t *testing.T) {
	agg := newTestAggregator(t)
	source := newTestBus(t)
	if err := agg.AddBus(source); err != nil {
		t.Fatal(err)
	}
	var onSource int32
	if err := source.Handle("evt", func(*Message) { atomic.AddInt32(&onSource, 1) },
		WithCorrelationFilter(CorrelationWildcard)); err != nil {
		t.Fatal(err)
	}
	if err := agg.Publish("evt", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	drainCascade(t, agg)
	if atomic.LoadInt32(&onSource) != 0 {
		t.Error("aggregator publish leaked down to the source")
	}
}

func TestAggregatorMultipleSources(t *testing.T) {
	agg := newTestAggregator(t)
	var topics []string
	var mu sync.Mutex
	if _, err := agg.Subscribe(Wildcard, func(msg *Message) {
		mu.Lock()
		topics = append(topics, msg.Topic())
		mu.Unlock()
	}, WithCorrelationFilter(CorrelationWildcard)); err != nil {
		t.Fatal(err)
	}

	sources := make([]*Bus, 3)
	for i := range sources {
		sources[i] = newTestBus(t)
		if err := agg.AddBus(sources[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := sources[0].Publish("a.one", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := sources[1].Publish("b.two", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := sources[2].Publish("c.three", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	drainCascade(t, agg)

	mu.Lock()
	got := len(topics)
	mu.Unlock()
	if got != 3 {
		t.Errorf("aggregated %d messages, want 3", got)
	}
}

func TestAggregatorAddBusErrors(t *testing.T) {
	agg := newTestAggregator(t)
	if err := agg.AddBus(nil); !errors.Is(err, ErrNilBus) {
		t.Errorf("nil bus: got %v, want ErrNilBus", err)
	}

	source := newTestBus(t)
	if err := agg.AddBus(source); err != nil {
		t.Fatal(err)
	}
	if err := agg.AddBus(source); !errors.Is(err, ErrAlreadyManaged) {
		t.Errorf("duplicate add: got %v, want ErrAlreadyManaged", err)
	}

	dead, err := New()
	if err != nil {
		t.Fatal(err)
	}
	dead.Shutdown()
	if err := agg.AddBus(dead); !errors.Is(err, ErrShutdown) {
		t.Errorf("shut-down source: got %v, want ErrShutdown", err)
	}
}

func TestAggregatorRemoveBus(t *testing.T) {
	agg := newTestAggregator(t)
	source := newTestBus(t)
	if err := agg.RemoveBus(source); !errors.Is(err, ErrNotManaged) {
		t.Errorf("unmanaged remove: got %v, want ErrNotManaged", err)
	}

	if err := agg.AddBus(source); err != nil {
		t.Fatal(err)
	}
	var hits int32
	if _, err := agg.Subscribe(Wildcard, func(*Message) { atomic.AddInt32(&hits, 1) },
		WithCorrelationFilter(CorrelationWildcard)); err != nil {
		t.Fatal(err)
	}
	if err := agg.RemoveBus(source); err != nil {
		t.Fatal(err)
	}
	if err := source.Publish("evt", map[string]any{}); err != nil {
		t.Fatal(err)
	}
	drain(t, source)
	drainCascade(t, agg)
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("removed source still forwards")
	}
	if err := agg.RemoveBus(source); !errors.Is(err, ErrNotManaged) {
		t.Errorf("double remove: got %v, want ErrNotManaged", err)
	}
}

func TestAggregatorRemoveShutdownSource(t *testing.T) {
	agg := newTestAggregator(t)
	source, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := agg.AddBus(source); err != nil {
		t.Fatal(err)
	}
	source.Shutdown()
	// a source that died while managed is released without error
	if err := agg.RemoveBus(source); err != nil {
		t.Errorf("removing a shut-down source: %v", err)
	}
}

func TestAggregatorManagedBuses(t *testing.T) {
	agg := newTestAggregator(t)
	a := newTestBus(t, WithName("alpha"))
	b := newTestBus(t, WithName("beta"))
	for _, bus := range []*Bus{b, a} {
		if err := agg.AddBus(bus); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]*Bus{a, b}, agg.ManagedBuses(),
		cmp.Comparer(func(x, y *Bus) bool { return x == y })); diff != "" {
		t.Errorf("ManagedBuses() (-want +got):\n%s", diff)
	}
}

func TestNewAggregatorWith(t *testing.T) {
	a := newTestBus(t)
	b := newTestBus(t)
	agg, err := NewAggregatorWith([]*Bus{a, b})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(agg.Shutdown)
	if got := len(agg.ManagedBuses()); got != 2 {
		t.Errorf("managing %d buses, want 2", got)
	}

	dead, err := New()
	if err != nil {
		t.Fatal(err)
	}
	dead.Shutdown()
	if _, err := NewAggregatorWith([]*Bus{dead}); !errors.Is(err, ErrShutdown) {
		t.Errorf("got %v, want ErrShutdown", err)
	}
}

func TestAggregatorShutdownLeavesSourcesRunning(t *testing.T) {
	agg, err := NewAggregator()
	if err != nil {
		t.Fatal(err)
	}
	source := newTestBus(t)
	if err := agg.AddBus(source); err != nil {
		t.Fatal(err)
	}
	agg.Shutdown()
	agg.Shutdown() // idempotent
	if !agg.IsShutdown() {
		t.Error("aggregator should be shut down")
	}
	if source.IsShutdown() {
		t.Error("Shutdown must leave managed sources running")
	}
	// forwarding hooks are gone
	if len(source.WildcardSubscribers()) != 0 {
		t.Error("forwarding hook not removed from source")
	}
}

func TestAggregatorShutdownCascade(t *testing.T) {
	agg, err := NewAggregator()
	if err != nil {
		t.Fatal(err)
	}
	source, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := agg.AddBus(source); err != nil {
		t.Fatal(err)
	}
	agg.ShutdownCascade()
	if !agg.IsShutdown() {
		t.Error("aggregator should be shut down")
	}
	if !source.IsShutdown() {
		t.Error("ShutdownCascade must shut managed sources down")
	}
}
