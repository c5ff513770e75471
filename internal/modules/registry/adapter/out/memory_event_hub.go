package out

import (
	"context"
	"sync"

	"plughost/internal/modules/registry/domain"
)

const subscriberBuffer = 32

// MemoryEventHub fans events out to in-process subscribers of the same user.
// A subscriber whose buffer is full misses the event.
type MemoryEventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan domain.Event
}

func NewMemoryEventHub() *MemoryEventHub {
	return &MemoryEventHub{subs: map[string]map[int]chan domain.Event{}}
}

func (h *MemoryEventHub) Publish(_ context.Context, event domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (h *MemoryEventHub) Subscribe(ctx context.Context, userID string) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, subscriberBuffer)
	h.mu.Lock()
	h.nextID++
	subID := h.nextID
	if h.subs[userID] == nil {
		h.subs[userID] = map[int]chan domain.Event{}
	}
	h.subs[userID][subID] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[userID], subID)
		if len(h.subs[userID]) == 0 {
			delete(h.subs, userID)
		}
		close(ch)
	}()
	return ch, nil
}

// Subscribers reports the live subscriber count for userID.
func (h *MemoryEventHub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
