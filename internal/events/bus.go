// Package events provides the in-process event bus connecting the pane
// monitor, command dispatcher, and voice feedback pipeline.
package events

import (
	"sync"
	"time"
)

// Event types emitted by the core pipeline.
const (
	RoleActive        = "role.active"
	RoleIdle          = "role.idle"
	PaneGone          = "pane.gone"
	CommandDispatched = "command.dispatched"
	TaskCompleted     = "task.completed"
	VoiceStateChanged = "voice.state"
)

// BusEvent is the minimal contract for events flowing through the bus.
type BusEvent interface {
	EventType() string
	EventTimestamp() time.Time
	EventTeam() string
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Team      string    `json:"team,omitempty"`
}

func (e BaseEvent) EventType() string         { return e.Type }
func (e BaseEvent) EventTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) EventTeam() string         { return e.Team }

// RoleEvent is a BusEvent scoped to one role: activity transitions,
// pane-gone notices, and dispatch acknowledgements.
type RoleEvent struct {
	BaseEvent

	Role    string            `json:"role,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewRoleEvent constructs a role-scoped event with UTC timestamp.
func NewRoleEvent(eventType, team, role, message string, details map[string]string) RoleEvent {
	return RoleEvent{
		BaseEvent: BaseEvent{
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Team:      team,
		},
		Role:    role,
		Message: message,
		Details: details,
	}
}

// Handler receives published events.
type Handler func(BusEvent)

// EventBus is a synchronous publish/subscribe hub. Handlers run on the
// publisher's goroutine; slow consumers should hand off internally.
type EventBus struct {
	mu       sync.RWMutex
	nextID   int
	byType   map[string]map[int]Handler
	allSubs  map[int]Handler
	capacity int
}

// NewEventBus creates a bus. The capacity hint is passed to emitters that
// buffer on top of the bus.
func NewEventBus(capacity int) *EventBus {
	if capacity < 1 {
		capacity = 256
	}
	return &EventBus{
		byType:   make(map[string]map[int]Handler),
		allSubs:  make(map[int]Handler),
		capacity: capacity,
	}
}

// DefaultBus is the process-wide bus.
var DefaultBus = NewEventBus(1024)

// Subscribe registers a handler for one event type. The returned func
// unsubscribes.
func (b *EventBus) Subscribe(eventType string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.byType[eventType] == nil {
		b.byType[eventType] = make(map[int]Handler)
	}
	b.byType[eventType][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byType[eventType], id)
	}
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.allSubs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allSubs, id)
	}
}

// Publish delivers an event to all matching subscribers.
func (b *EventBus) Publish(ev BusEvent) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.allSubs)+4)
	for _, fn := range b.byType[ev.EventType()] {
		handlers = append(handlers, fn)
	}
	for _, fn := range b.allSubs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
