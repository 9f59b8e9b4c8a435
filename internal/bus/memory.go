package bus

import (
	"context"
	"sync"

	"github.com/beatmart/chatsync/internal/models"
)

// MemoryBus is an in-process Bus for development and tests. Handlers
// run synchronously on the publisher's goroutine, so delivery order
// matches publish order.
type MemoryBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	closed   bool
}

// NewMemoryBus constructs an initialized MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]Handler)}
}

// Publish delivers the event to every subscriber.
func (b *MemoryBus) Publish(ctx context.Context, event *models.Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

// Subscribe registers a handler for all future events.
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) (Subscription, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return &memorySubscription{bus: b, id: id}, nil
}

// Close drops all subscribers.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	b.handlers = make(map[int]Handler)
	b.closed = true
	b.mu.Unlock()
}

type memorySubscription struct {
	bus *MemoryBus
	id  int
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.handlers, s.id)
	s.bus.mu.Unlock()
	return nil
}
