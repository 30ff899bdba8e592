package events

import (
	"sync"
	"time"
)

// Event types published on the bus
const (
	CreditReceived = "credit.received"
	CreditDebited  = "credit.debited"

	NodeRegistered = "node.registered"
	NodeUnhealthy  = "node.unhealthy"
	NodeRecovering = "node.recovering"
	NodeReturning  = "node.returning"
	NodeActive     = "node.active"
	NodeOffline    = "node.offline"

	RecoveryStarted   = "recovery.started"
	RecoveryCompleted = "recovery.completed"
	CapacityOverflow  = "capacity.overflow"

	ContainerHealth = "container.health"

	BotSuspended      = "bot.suspended"
	BotReactivated    = "bot.reactivated"
	BotDestroyed      = "bot.destroyed"
	AutoTopupDisabled = "autotopup.disabled"
)

// Event is a single occurrence published on the bus
type Event struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler processes a published event. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Event)

// Bus is an in-process publish/subscribe dispatcher
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish delivers an event to all handlers registered for its type
func (b *Bus) Publish(eventType string, payload map[string]interface{}) {
	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	for _, handler := range handlers {
		handler(event)
	}
}
