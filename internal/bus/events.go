package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// Well-known event types.
const (
	EventMessageReceived = "message.received" // Payload: message id
	EventRelayCompleted  = "relay.completed"  // Payload: domain.RelayRecord
	EventHistoryReset    = "history.reset"    // Payload: user key
)

// Event is an internal notification. Source is the channel it concerns.
type Event struct {
	Type      string
	Source    string
	Payload   any
	Timestamp time.Time
}

func MessageReceived(channel, msgID string) Event {
	return Event{Type: EventMessageReceived, Source: channel, Payload: msgID}
}

func RelayCompleted(rec domain.RelayRecord) Event {
	return Event{Type: EventRelayCompleted, Source: rec.Channel, Payload: rec}
}

func HistoryReset(channel, userID string) Event {
	return Event{Type: EventHistoryReset, Source: channel, Payload: userID}
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus for internal events such as
// relay completions consumed by metrics and the relay log. "*" subscribes to
// every type. Handler panics are recovered and logged.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID int
	wg     sync.WaitGroup
	logger *slog.Logger
}

type subscription struct {
	id string
	fn EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// On registers a handler for the given event type and returns its ID.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := fmt.Sprintf("%s-%d", eventType, eb.nextID)
	eb.subs[eventType] = append(eb.subs[eventType], subscription{id: id, fn: handler})
	return id
}

// OnRelayCompleted registers fn for relay records, skipping malformed payloads.
func (eb *EventBus) OnRelayCompleted(fn func(domain.RelayRecord)) string {
	return eb.On(EventRelayCompleted, func(e Event) {
		if rec, ok := e.Payload.(domain.RelayRecord); ok {
			fn(rec)
		}
	})
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.subs[eventType]
	for i, s := range subs {
		if s.id == handlerID {
			eb.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit calls all matching handlers synchronously, in registration order,
// type-specific ones before wildcards.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]subscription, 0, len(eb.subs[event.Type])+len(eb.subs["*"]))
	subs = append(subs, eb.subs[event.Type]...)
	subs = append(subs, eb.subs["*"]...)
	eb.mu.RUnlock()

	for _, s := range subs {
		eb.dispatch(s, event)
	}
}

func (eb *EventBus) dispatch(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", s.id, "panic", r)
		}
	}()
	s.fn(event)
}

// EmitAsync dispatches the event on its own goroutine so slow subscribers
// (a relay log write) stay off the caller's path.
func (eb *EventBus) EmitAsync(event Event) {
	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		eb.Emit(event)
	}()
}

// Wait blocks until all EmitAsync dispatches have returned.
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}
