package session

import (
	"sync"
	"time"
)

// EventType names a memory lifecycle event.
type EventType string

const (
	EventTurnAppended    EventType = "turn_appended"
	EventTurnBlocked     EventType = "turn_blocked"
	EventDigestRefreshed EventType = "digest_refreshed"
	EventDigestStale     EventType = "digest_stale"
	EventDigestFailed    EventType = "digest_failed"
	EventSessionCleared  EventType = "session_cleared"
	EventMemoryArchived  EventType = "memory_archived"
)

// Event carries what happened to which session.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      map[string]interface{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus lets callers observe memory lifecycle changes without coupling
// to the manager. Handlers run synchronously on the publishing goroutine.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if handlers, ok := eb.handlers[event.Type]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}
	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// publish is the manager-side hook; a nil bus drops events.
func (eb *EventBus) publish(eventType EventType, sessionID string, data map[string]interface{}) {
	if eb == nil {
		return
	}
	eb.Publish(Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}
