// Package events carries in-process notifications between the service core
// and its live subscribers.
package events

import (
	"sync"
	"time"
)

// EventType names an event.
type EventType string

const (
	BetasEstimated        EventType = "BETAS_ESTIMATED"
	BetasCacheInvalidated EventType = "BETAS_CACHE_INVALIDATED"
	OptimizationCompleted EventType = "OPTIMIZATION_COMPLETED"
	OptimizationFailed    EventType = "OPTIMIZATION_FAILED"
	PortfolioExported     EventType = "PORTFOLIO_EXPORTED"
	CacheCleaned          EventType = "CACHE_CLEANED"
	ErrorOccurred         EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type the service emits.
var AllEventTypes = []EventType{
	BetasEstimated,
	BetasCacheInvalidated,
	OptimizationCompleted,
	OptimizationFailed,
	PortfolioExported,
	CacheCleaned,
	ErrorOccurred,
}

// Event is one published notification.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(*Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		now:  time.Now,
	}
}

// Subscribe registers handler for eventType and returns a function that
// removes the subscription.
func (b *Bus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[eventType]
			for i, s := range subs {
				if s.id == id {
					b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit delivers an event to every current subscriber of its type.
func (b *Bus) Emit(eventType EventType, module string, data EventData) {
	event := &Event{
		Type:      eventType,
		Timestamp: b.now(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[eventType]))
	for i, s := range b.subs[eventType] {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// SubscriberCount returns the number of handlers for eventType.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
