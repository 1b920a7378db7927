package events

import (
	"context"
	"sync"
)

// Broker broadcasts results to every connected popup. There is no
// request/response routing: subscribers see every result and disambiguate by
// action and request id.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Result]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[chan Result]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context) <-chan Result {
	ch := make(chan Result, 16)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish never blocks; a subscriber whose buffer is full misses the result.
// Sends happen under the read lock so an unsubscribing channel is never
// written after it is closed.
func (b *Broker) Publish(result Result) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- result:
		default:
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
