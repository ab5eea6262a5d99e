// Package events implements the Event Bus: in-process pub/sub of typed
// events with durable append preceding broadcast, and ordered per-debate
// delivery to subscribers. internal/conversation's Broadcast() has no
// durability gate or bounded buffer, so this package is new, split per
// interface-per-capability into a durable sink (Store) and a Sink the
// Orchestrator publishes through.
package events

import (
	"context"
	"sync"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/logging"
)

// Store is the capability the Event Bus needs from the Storage Adapter: a
// durable, monotonically-sequenced append. The Bus never broadcasts an event
// that AppendEvent has not already accepted (durability-then-broadcast).
type Store interface {
	AppendEvent(ctx context.Context, e *domain.Event) error
}

// Sink is what publishers (the Orchestrator) see: a single non-blocking
// publish call that must never silently drop on the hot path.
type Sink interface {
	Publish(ctx context.Context, e *domain.Event) error
}

// Filter selects which events a subscriber receives.
type Filter struct {
	DebateID string   // empty = all debates
	Types    []string // empty = all types
}

func (f Filter) matches(e *domain.Event) bool {
	if f.DebateID != "" && e.DebateID != f.DebateID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == string(e.Type) {
			return true
		}
	}
	return false
}

// Subscription is an ordered stream of events matching a Filter.
type Subscription struct {
	ch     chan *domain.Event
	filter Filter
	bus    *Bus
	id     uint64
}

// Events returns the channel subscribers read from. It is closed on
// Unsubscribe.
func (s *Subscription) Events() <-chan *domain.Event {
	return s.ch
}

// Unsubscribe removes the subscription from the bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.removeSubscriber(s.id)
}

// Bus is the in-process pub/sub hub. The Orchestrator is the single producer
// per debate; the WebSocket Hub is the subscribing consumer. The Storage
// Adapter is not a subscriber: Publish writes to it through Store.AppendEvent
// before any fan-out.
type Bus struct {
	store Store

	mu          sync.Mutex
	subscribers map[uint64]*Subscription
	nextSubID   uint64

	subscriberBuffer int
}

// NewBus constructs a Bus backed by the given durable Store. subscriberBuffer
// bounds each subscriber's channel; publishers never block on a slow
// subscriber (fan-out is a non-blocking send that drops the event for a
// subscriber whose channel is full, so a stalled subscriber cannot stall
// Publish).
func NewBus(store Store, subscriberBuffer int) *Bus {
	if subscriberBuffer <= 0 {
		subscriberBuffer = 256
	}
	return &Bus{
		store:            store,
		subscribers:      make(map[uint64]*Subscription),
		subscriberBuffer: subscriberBuffer,
	}
}

// Publish appends the event durably, then fans it out to matching
// subscribers. It is the only path through which events become visible, and
// it must never silently drop: a storage failure here is returned to the
// caller (the Orchestrator), which treats it as a fatal integrity error for
// the debate rather than proceeding with a non-durable broadcast.
func (b *Bus) Publish(ctx context.Context, e *domain.Event) error {
	if err := b.store.AppendEvent(ctx, e); err != nil {
		return apperr.Wrap(apperr.KindIntegrity, "event_append_failed", "failed to durably append event", err)
	}

	logging.LogEventBusEvent("publish", e.DebateID, e.Seq, map[string]interface{}{"type": e.Type})

	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.filter.matches(e) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- e:
		default:
			// Subscriber-side back-pressure is the WebSocket Hub's job
			// (bounded queue + drop/coalesce policy, internal/wshub). The
			// Bus itself drops here when a subscriber's channel is full;
			// this never blocks Publish, preserving "no-loss on the hot path for
			// the Orchestrator" since the Orchestrator's hot path is
			// AppendEvent above, not subscriber delivery.
			logging.LogEventBusEvent("subscriber_slow_drop", e.DebateID, e.Seq, map[string]interface{}{"subscriber": sub.id})
		}
	}
	return nil
}

// Subscribe returns an ordered stream of events matching filter. It takes no
// cursor and the Bus replays no history itself — callers needing replay read
// durable history from the Storage Adapter first and then Subscribe for the
// live tail, matching the WebSocket Hub's sync-then-live-events contract.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &Subscription{
		ch:     make(chan *domain.Event, b.subscriberBuffer),
		filter: filter,
		bus:    b,
		id:     b.nextSubID,
	}
	b.subscribers[sub.id] = sub
	return sub
}

func (b *Bus) removeSubscriber(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}
