package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type identifies a job lifecycle event.
type Type string

const (
	TypeJobAdded     Type = "job.added"
	TypeJobStarted   Type = "job.started"
	TypeJobProgress  Type = "job.progress"
	TypeJobCompleted Type = "job.completed"
	TypeJobFailed    Type = "job.failed"
	TypeJobCancelled Type = "job.cancelled"
)

// Event carries a job snapshot to subscribers. Delivery is at-least-once per
// subscriber; ordering is only guaranteed for events of the same job.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Handler processes a single event. Handlers must not block.
type Handler func(Event)

// Bus is an in-memory publish/subscribe bus for job lifecycle notifications.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	streams  map[chan Event]struct{}
	logger   *zap.Logger
}

// NewBus creates an in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		streams:  make(map[chan Event]struct{}),
		logger:   logger.Named("events"),
	}
}

// Publish delivers an event to every handler registered for its type and to
// every stream subscriber. Slow stream subscribers are skipped rather than
// blocking the publisher.
func (b *Bus) Publish(eventType Type, data interface{}) {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.streams {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("dropping event for slow subscriber", zap.String("type", string(eventType)))
		}
	}
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Stream returns a channel receiving every published event, regardless of
// type. The caller must release it with Unsubscribe.
func (b *Bus) Stream() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.streams[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a stream channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[ch]; ok {
		delete(b.streams, ch)
		close(ch)
	}
}
