package ws

import (
	"encoding/json"
	"strconv"
	"sync"

	"pet-society-chat/internal/observability"
)

// subscriberBuffer is the per-subscriber event backlog. A subscriber
// that falls this far behind is dropped so one slow connection cannot
// stall delivery to the rest of its group.
const subscriberBuffer = 64

// Event is a broadcast unit: a pre-marshaled payload plus enough
// metadata for delivery-side filtering (typing echo suppression).
type Event struct {
	Type     string
	SenderID int
	Payload  []byte
}

// NewEvent marshals v once so every subscriber receives identical bytes.
func NewEvent(eventType string, senderID int, v any) (Event, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, SenderID: senderID, Payload: payload}, nil
}

// RoomGroup names the broadcast group for a room.
func RoomGroup(name string) string {
	return "room:" + name
}

// UserGroup names a user's personal broadcast group.
func UserGroup(userID int) string {
	return "user:" + strconv.Itoa(userID)
}

// Subscriber is one connection's membership in a broadcast group.
// Events arrive on C in publish order until the subscriber is
// unsubscribed, at which point C is closed.
type Subscriber struct {
	group string
	ch    chan Event
}

// C returns the subscriber's event channel.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Group returns the group the subscriber belongs to.
func (s *Subscriber) Group() string {
	return s.group
}

// Broker is the process-wide fan-out layer. Groups exist only while
// they have subscribers; nothing survives a restart, reconnecting
// clients re-subscribe.
type Broker struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscriber]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{groups: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber in the group.
func (b *Broker) Subscribe(group string) *Subscriber {
	sub := &Subscriber{group: group, ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.groups[group]; !ok {
		b.groups[group] = make(map[*Subscriber]struct{})
	}
	b.groups[group][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Calling it
// again for the same subscriber is a no-op.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.groups[sub.group]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.groups, sub.group)
	}
	close(sub.ch)
}

// Publish delivers the event to every current subscriber of the group.
// Within one group each subscriber observes events in publish order.
// Subscribers with a full backlog are dropped rather than blocking the
// publisher.
func (b *Broker) Publish(group string, ev Event) {
	var slow []*Subscriber

	b.mu.RLock()
	for sub := range b.groups[group] {
		select {
		case sub.ch <- ev:
			observability.IncBrokerDelivered(ev.Type)
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.Unsubscribe(sub)
		observability.IncBrokerDropped()
	}
}

// GroupSize reports the current subscriber count of a group.
func (b *Broker) GroupSize(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}
