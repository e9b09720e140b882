package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"quizzana/internal/domain"
)

const subscriberBuffer = 8

// Broker publishes room events over Redis pub/sub so every instance can serve
// websocket clients of any room.
type Broker struct {
	client *redis.Client
	log    logrus.FieldLogger
}

func NewBroker(client *redis.Client, log logrus.FieldLogger) *Broker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broker{client: client, log: log}
}

func (b *Broker) Publish(ctx context.Context, topic string, event domain.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, raw).Err(); err != nil {
		return domain.Transient("publish event", err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning, so no
// event published afterwards is missed.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error) {
	sub := b.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, domain.Transient("subscribe", err)
	}

	out := make(chan domain.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.WithError(err).WithField("topic", topic).Warn("decode event")
					continue
				}
				deliver(out, ev)
			}
		}
	}()
	return out, cancel, nil
}

// deliver drops the oldest buffered event when the subscriber is behind.
func deliver(out chan domain.Event, ev domain.Event) {
	select {
	case out <- ev:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- ev:
	default:
	}
}
