package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventCandleClosed     EventType = "CANDLE_CLOSED"
	EventSignalGenerated  EventType = "SIGNAL_GENERATED"
	EventSignalSuppressed EventType = "SIGNAL_SUPPRESSED"
	EventSignalRejected   EventType = "SIGNAL_REJECTED"
	EventStreamConnected  EventType = "STREAM_CONNECTED"
	EventStreamDropped    EventType = "STREAM_DROPPED"
	EventBackfillDone     EventType = "BACKFILL_DONE"
	EventEngineStarted    EventType = "ENGINE_STARTED"
	EventEngineStopped    EventType = "ENGINE_STOPPED"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishCandleClosed publishes a bar close event
func (eb *EventBus) PublishCandleClosed(symbol, interval string, closePrice float64, closeTime time.Time) {
	eb.Publish(Event{
		Type: EventCandleClosed,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"interval":   interval,
			"close":      closePrice,
			"close_time": closeTime,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, interval, direction, reason string, confidence, entryPrice float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"interval":    interval,
			"direction":   direction,
			"reason":      reason,
			"confidence":  confidence,
			"entry_price": entryPrice,
		},
	})
}

// PublishSignalSuppressed publishes a suppression event with its reason
func (eb *EventBus) PublishSignalSuppressed(symbol, interval, reason string) {
	eb.Publish(Event{
		Type: EventSignalSuppressed,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"interval": interval,
			"reason":   reason,
		},
	})
}

// PublishSignalRejected publishes a below-threshold rejection event
func (eb *EventBus) PublishSignalRejected(symbol, interval string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"interval":   interval,
			"confidence": confidence,
		},
	})
}

// PublishStreamConnected publishes a stream connection event
func (eb *EventBus) PublishStreamConnected(streams int) {
	eb.Publish(Event{
		Type: EventStreamConnected,
		Data: map[string]interface{}{
			"streams": streams,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
