package pubsub

import (
	"fmt"
	"sort"
)

// Callback is invoked with each message matching a subscription. Callbacks
// run sequentially on the bus's dispatch goroutine; a panicking callback is
// recovered and routed to the bus error handler.
type Callback func(*Message)

// subscription is one registry entry. Entries are owned exclusively by the
// bus registry and are never shared across buses.
type subscription struct {
	id          string
	seq         uint64        // registration order across all buckets
	filter      *TopicPattern // nil for the wildcard-topic bucket
	correlation string        // CorrelationWildcard or an exact id
	callback    Callback
}

// matches reports whether the entry should receive a message. The
// wildcard-topic bucket is handled by the caller; here only the pattern and
// correlation filter apply.
func (s *subscription) matches(msg *Message) bool {
	if s.filter != nil && !s.filter.Matches(msg.topic) {
		return false
	}
	if s.correlation == CorrelationWildcard {
		return true
	}
	return s.correlation == msg.correlationID
}

// subscriberTable maps topic filters to ordered subscriber lists, with a
// separate bucket for the "*" subscribe-to-everything sentinel. The table
// does no locking of its own; the owning bus serializes all access and
// snapshots entries before invoking callbacks.
type subscriberTable struct {
	buckets  map[string][]*subscription
	wildcard []*subscription
}

func newSubscriberTable() *subscriberTable {
	return &subscriberTable{
		buckets: make(map[string][]*subscription),
	}
}

// add registers an entry under its topic filter, in call order.
func (t *subscriberTable) add(filter string, sub *subscription) {
	if filter == Wildcard {
		t.wildcard = append(t.wildcard, sub)
		return
	}
	t.buckets[filter] = append(t.buckets[filter], sub)
}

// remove deletes the entry with the given id from the given filter bucket.
// Returns an error wrapping ErrUnknownSubscriber if the pair is not
// registered, including on double-remove.
func (t *subscriberTable) remove(filter, id string) error {
	if filter == Wildcard {
		for i, sub := range t.wildcard {
			if sub.id == id {
				t.wildcard = append(t.wildcard[:i], t.wildcard[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %q on topic %q", ErrUnknownSubscriber, id, filter)
	}
	entries, ok := t.buckets[filter]
	if !ok {
		return fmt.Errorf("%w: %q on topic %q", ErrUnknownSubscriber, id, filter)
	}
	for i, sub := range entries {
		if sub.id == id {
			entries = append(entries[:i], entries[i+1:]...)
			if len(entries) == 0 {
				delete(t.buckets, filter)
			} else {
				t.buckets[filter] = entries
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q on topic %q", ErrUnknownSubscriber, id, filter)
}

// removeAll clears one filter bucket, or the whole table when filter is
// empty. Clearing an unknown bucket is a no-op.
func (t *subscriberTable) removeAll(filter string) {
	switch filter {
	case "":
		t.buckets = make(map[string][]*subscription)
		t.wildcard = nil
	case Wildcard:
		t.wildcard = nil
	default:
		delete(t.buckets, filter)
	}
}

// snapshot returns a point-in-time copy of the entries matching a message,
// the union of the pattern buckets and the wildcard bucket ordered by
// registration sequence. Dispatch iterates the copy so concurrent
// unsubscribes never skip or duplicate a delivery within an already-started
// pass.
func (t *subscriberTable) snapshot(msg *Message) []*subscription {
	var matched []*subscription
	for _, entries := range t.buckets {
		for _, sub := range entries {
			if sub.matches(msg) {
				matched = append(matched, sub)
			}
		}
	}
	for _, sub := range t.wildcard {
		if sub.matches(msg) {
			matched = append(matched, sub)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].seq < matched[j].seq
	})
	return matched
}

// ids returns a snapshot of subscriber ids per topic filter, wildcard
// bucket excluded.
func (t *subscriberTable) ids() map[string][]string {
	out := make(map[string][]string, len(t.buckets))
	for filter, entries := range t.buckets {
		ids := make([]string, len(entries))
		for i, sub := range entries {
			ids[i] = sub.id
		}
		out[filter] = ids
	}
	return out
}

// wildcardIDs returns a snapshot of the wildcard bucket's subscriber ids.
func (t *subscriberTable) wildcardIDs() []string {
	ids := make([]string, len(t.wildcard))
	for i, sub := range t.wildcard {
		ids[i] = sub.id
	}
	return ids
}
