// Package broker fans room messages out to every server instance.
package broker

import (
	"context"
	"sync"

	"github.com/serroba/smart-collab/internal/ws"
)

// Envelope is a room message in transit between instances.
type Envelope struct {
	RoomID          string     `json:"room_id"`
	ExcludeClientID string     `json:"exclude_client_id,omitempty"`
	Origin          string     `json:"origin,omitempty"` // Publishing instance
	Message         ws.Message `json:"message"`
}

// Handler receives published envelopes. Envelopes of a room are delivered
// in publish order.
type Handler func(Envelope)

// Broker publishes envelopes to all subscribers.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers h until ctx is canceled.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// Local delivers envelopes synchronously within the process.
type Local struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// NewLocal creates an in-process broker.
func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

// Publish calls every handler before returning.
func (l *Local) Publish(_ context.Context, env Envelope) error {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.handlers))

	for id := 0; id < l.nextID; id++ {
		if h, ok := l.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}

	return nil
}

// Subscribe registers h until ctx is canceled.
func (l *Local) Subscribe(ctx context.Context, h Handler) error {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers[id] = h
	l.mu.Unlock()

	context.AfterFunc(ctx, func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	})

	return nil
}

// Close drops all handlers.
func (l *Local) Close() error {
	l.mu.Lock()
	clear(l.handlers)
	l.mu.Unlock()

	return nil
}

// Ensure Local implements Broker.
var _ Broker = (*Local)(nil)
