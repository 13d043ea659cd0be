// Package bus is the in-process pub/sub channel between the analysis
// pipeline and the delivery surfaces (SSE stream, websocket, logs).
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Topic identifies a class of published events.
type Topic string

const (
	RunStarted   Topic = "RUN_STARTED"
	RunProgress  Topic = "RUN_PROGRESS"
	RunFinished  Topic = "RUN_FINISHED"
	FieldScored  Topic = "FIELD_SCORED"
	VetoRaised   Topic = "VETO_RAISED"
	DecisionMade Topic = "DECISION_MADE"
)

// Event is one published message.
type Event struct {
	Topic     Topic     `json:"topic"`
	RunID     string    `json:"run_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      Payload   `json:"data,omitempty"`
}

// Handler consumes published events. Handlers run synchronously on the
// publisher's goroutine; slow consumers must decouple with their own buffer.
type Handler func(Event)

// Bus fans events out to per-topic subscribers. The zero value is not
// usable; construct with NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]Handler
	log    zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[Topic]map[int]Handler),
		log:  log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a handler for one topic and returns its subscription
// id for later removal.
func (b *Bus) Subscribe(topic Topic, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	b.subs[topic][b.nextID] = h
	return b.nextID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], id)
}

// Publish delivers data to every subscriber of its topic. The timestamp is
// stamped here so all subscribers observe the same one.
func (b *Bus) Publish(runID string, data Payload) {
	ev := Event{
		Topic:     data.Topic(),
		RunID:     runID,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, h := range b.subs[ev.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	b.log.Debug().
		Str("topic", string(ev.Topic)).
		Str("run_id", runID).
		Int("subscribers", len(handlers)).
		Msg("event published")
}
