// Package pubsub provides an in-process, asynchronous publish-subscribe
// message bus with topic pattern matching and correlation-id filtering.
//
// Architecture:
//   - Bus owns a subscriber registry, a FIFO delivery queue, and one
//     background dispatch worker; callbacks for a given bus never run
//     concurrently with each other
//   - Topic filters support per-segment wildcards ("user.*", "order.?.paid")
//     plus the subscription-time sentinel "*" that matches every topic
//   - Correlation ids group messages across producers, orthogonal to topic;
//     subscribers can filter on an exact id or match any with "*"
//   - Aggregator bridges several independently owned buses into one
//     subscriber view (one-way: managed bus -> aggregator)
//   - ScopeRegistry hands out shared singleton buses by scope name so
//     decoupled components can find each other without a shared reference
//
// Basic example:
//
//	bus, err := pubsub.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bus.Shutdown()
//
//	bus.Subscribe("user.created", func(msg *pubsub.Message) {
//	    fmt.Println("user created:", msg.Data()["id"])
//	})
//
//	bus.Publish("user.created", map[string]any{"id": 123})
//	bus.Drain(context.Background())
//
// Bus Options:
//   - WithErrorHandler: callback invoked when a subscriber panics.
//   - WithCorrelationID: set the instance correlation id (auto-generated otherwise).
//   - WithLogger: set logger for the bus.
//   - WithTracing: enable/disable OpenTelemetry tracing. Default is true.
//   - WithMetrics: enable/disable OpenTelemetry metrics. Default is true.
//
// Delivery guarantees:
// publish order is delivery order for a single bus, and subscribers are
// invoked in registration order for each message. Across buses feeding one
// Aggregator only per-source ordering is preserved. Messages are not
// persisted; a message published with no matching subscriber is dropped.
//
// Shared buses:
// components that cannot share a *Bus reference can share a scope name:
//
//	bus, _ := pubsub.Scope("billing")
//	bus.Publish("invoice.paid", map[string]any{"invoice": "inv-1"})
//
// The first caller for a scope creates the bus (with any supplied options);
// later callers get the same instance and their options are ignored.
package pubsub
