package memory

import (
	"context"
	"sync"

	"quizzana/internal/domain"
)

const subscriberBuffer = 8

// Broker fans events out to in-process subscribers.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[chan domain.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[chan domain.Event]struct{})}
}

// Publish never blocks: a subscriber whose buffer is full loses its oldest event.
func (b *Broker) Publish(_ context.Context, topic string, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers a channel for topic. The subscription ends when cancel is
// called or ctx is done.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		b.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.topics[topic]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// Subscribers is exposed for tests.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
