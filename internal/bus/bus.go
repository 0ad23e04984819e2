// Package bus fans server events (player state updates, catalog mutations)
// out to subscribers: realtime WebSocket clients, the Redis mirror and
// anything else that registers.
package bus

import (
	"log/slog"
	"sync"
)

// Event is one published item. Payload must be safe to share between
// subscribers; publishers never mutate it after Publish.
type Event struct {
	Name    string
	Payload any
}

// EventHandler must not block; slow consumers queue internally.
type EventHandler func(Event)

type subscriber struct {
	id      string
	handler EventHandler
}

// Bus delivers events to subscribers synchronously, in subscription order,
// and in publish order across concurrent publishers. A panicking handler is
// logged and skipped.
type Bus struct {
	publishMu sync.Mutex

	subMu       sync.RWMutex
	subscribers []subscriber
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler under id, replacing any handler with that id.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i := range b.subscribers {
		if b.subscribers[i].id == id {
			b.subscribers[i].handler = handler
			return
		}
	}
	b.subscribers = append(b.subscribers, subscriber{id: id, handler: handler})
}

func (b *Bus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i := range b.subscribers {
		if b.subscribers[i].id == id {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers)
}

// Publish delivers event to every subscriber before returning.
func (b *Bus) Publish(event Event) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.subMu.RLock()
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.subMu.RUnlock()

	for _, s := range subs {
		dispatch(s, event)
	}
}

func dispatch(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus.handler_panic", "subscriber", s.id, "event", event.Name, "panic", r)
		}
	}()
	s.handler(event)
}
