// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types published on the bus.
const (
	EventQueryStarted   = "query.started"
	EventQueryCompleted = "query.completed"
	EventScanCompleted  = "scan.completed"
)

// Event represents a system event
type Event struct {
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventBus fans events out to subscribers. Slow subscribers drop
// events rather than blocking publishers.
type EventBus struct {
	subscribers []chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		events: make(chan Event, 256),
		logger: logger.With(zap.String("component", "event-bus")),
	}
}

// Start starts the event distribution loop. Blocks until the event
// channel is closed.
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distribute(event)
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(eventType, source string, data interface{}) {
	event := Event{
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event", zap.String("event_type", eventType))
	}
}

// Subscribe registers a new subscriber channel.
func (eb *EventBus) Subscribe() <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 64)
	eb.subscribers = append(eb.subscribers, subscriber)
	return subscriber
}

func (eb *EventBus) distribute(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, subscriber := range eb.subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
