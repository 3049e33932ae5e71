// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"serial-device/internal/model"
)

// EventBus manages event distribution
type EventBus struct {
	subscribers map[int]*subscription
	nextID      int
	events      chan model.DeviceEvent
	done        chan struct{}
	stopOnce    sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

type subscription struct {
	types map[model.EventType]bool
	ch    chan model.DeviceEvent
}

func (s *subscription) wants(eventType model.EventType) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]*subscription),
		events:      make(chan model.DeviceEvent, 1000),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes published events until Stop is called
func (eb *EventBus) Start() {
	for {
		select {
		case <-eb.done:
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Stop ends Start and closes every subscriber channel
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.done)

		eb.mutex.Lock()
		defer eb.mutex.Unlock()
		for id, sub := range eb.subscribers {
			close(sub.ch)
			delete(eb.subscribers, id)
		}
	})
}

// Publish queues an event without blocking
func (eb *EventBus) Publish(event model.DeviceEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given, and a function that cancels the
// subscription.
func (eb *EventBus) Subscribe(types ...model.EventType) (<-chan model.DeviceEvent, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	sub := &subscription{
		types: make(map[model.EventType]bool, len(types)),
		ch:    make(chan model.DeviceEvent, 100),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	id := eb.nextID
	eb.nextID++
	eb.subscribers[id] = sub

	return sub.ch, func() {
		eb.mutex.Lock()
		defer eb.mutex.Unlock()
		if _, ok := eb.subscribers[id]; ok {
			close(sub.ch)
			delete(eb.subscribers, id)
		}
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.DeviceEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, sub := range eb.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
