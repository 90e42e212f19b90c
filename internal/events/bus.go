// Package events carries the orchestration event stream: a small in-process
// bus fanning core happenings out to the live feed and the journal.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the core.
const (
	TypeAgentRegistered     = "agent.registered"
	TypeAgentUnregistered   = "agent.unregistered"
	TypeTaskCoordinated     = "task.coordinated"
	TypeGenerationCompleted = "generation.completed"
	TypeEnvironmentUpdated  = "environment.updated"
)

// Event is one orchestration happening
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
}

// New stamps a fresh event of the given type
func New(eventType string, payload map[string]any) Event {
	return Event{
		ID:      fmt.Sprintf("evt_%s", uuid.NewString()[:8]),
		Type:    eventType,
		Time:    time.Now(),
		Payload: payload,
	}
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event, which is counted and logged. The
// feed is advisory; the journal and core results are the records of truth.
type Bus struct {
	subs    map[string]chan Event
	dropped atomic.Int64
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewBus creates an empty bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]chan Event),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers a buffered subscriber. The returned cancel removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with buffer room
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("slow subscriber dropped event", "type", e.Type, "id", e.ID)
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for full buffers
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
