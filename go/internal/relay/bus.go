package relay

import (
	"context"
	"sync"
)

// BusHandler receives every event published on the bus. local is true when this process
// published it, in which case the local board already holds the change.
type BusHandler func(event Event, local bool)

// Bus carries accepted mutations to every relay instance serving the map
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(handler BusHandler) (unsubscribe func(), err error)
	Close() error
}

// LocalBus delivers events synchronously to handlers in this process.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]BusHandler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]BusHandler)}
}

func (b *LocalBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]BusHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event, true)
	}
	return nil
}

func (b *LocalBus) Subscribe(handler BusHandler) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]BusHandler)
	b.mu.Unlock()
	return nil
}
