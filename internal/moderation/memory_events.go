package moderation

import (
	"context"
	"fmt"
	"sync"
)

// MemoryEvents is an in-process EventSource and EventPublisher for
// development and tests.
type MemoryEvents struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

// NewMemoryEvents constructs a channel-backed event bus.
func NewMemoryEvents(capacity int) *MemoryEvents {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryEvents{events: make(chan Event, capacity)}
}

func (m *MemoryEvents) PublishPending(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("events closed")
	}
	select {
	case m.events <- Event{MessageID: messageID}:
		return nil
	default:
		return fmt.Errorf("events full")
	}
}

func (m *MemoryEvents) Subscribe(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case event, ok := <-m.events:
				if !ok {
					return
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *MemoryEvents) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}
