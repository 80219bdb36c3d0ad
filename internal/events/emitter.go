package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventEmitter decouples the pipeline's hot paths from bus delivery.
// Pane pollers and the voice state machine emit from latency-sensitive
// loops, so Emit never blocks: events queue onto a buffer drained by a
// single worker, and a full queue costs the caller nothing but the
// event.
type EventEmitter struct {
	bus     *EventBus
	queue   chan BusEvent
	started atomic.Bool
	lost    atomic.Int64
}

// NewEventEmitter creates an emitter feeding the given bus (DefaultBus
// when nil). The worker starts lazily on first Emit.
func NewEventEmitter(bus *EventBus, buffer int) *EventEmitter {
	if bus == nil {
		bus = DefaultBus
	}
	if buffer < 1 {
		buffer = 256
	}
	return &EventEmitter{
		bus:   bus,
		queue: make(chan BusEvent, buffer),
	}
}

// Start launches the publish worker. Idempotent; Emit calls it anyway.
func (e *EventEmitter) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for ev := range e.queue {
			e.bus.Publish(ev)
		}
	}()
}

// Emit enqueues an event for ordered async publish. When the queue is
// full the event is dropped and counted.
func (e *EventEmitter) Emit(ev BusEvent) {
	if ev == nil {
		return
	}
	e.Start()
	select {
	case e.queue <- ev:
	default:
		n := e.lost.Add(1)
		if n == 1 || n%500 == 0 {
			slog.Debug("event queue full, dropping", "lost", n, "type", ev.EventType())
		}
	}
}

// Dropped reports how many events were discarded on a full queue.
func (e *EventEmitter) Dropped() int64 {
	return e.lost.Load()
}

// DefaultEmitter returns the process-wide emitter over DefaultBus.
var DefaultEmitter = sync.OnceValue(func() *EventEmitter {
	return NewEventEmitter(DefaultBus, 1024)
})
