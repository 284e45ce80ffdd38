package events

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bus is a fire-and-forget publish/subscribe fabric. Delivery is at-most-once;
// durable state lives in the database, the bus only carries notifications.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription is a live feed for one topic. Messages arrive as raw JSON.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

type redisBus struct {
	client *goredis.Client
	log    *zap.Logger
}

// NewRedisBus builds a Bus backed by redis pub/sub.
func NewRedisBus(client *goredis.Client, log *zap.Logger) Bus {
	return &redisBus{client: client, log: log.Named("events")}
}

func (b *redisBus) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, topic, raw).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				b.log.Warn("dropping event, subscriber too slow", zap.String("topic", topic))
			}
		}
	}()

	return &redisSubscription{pubsub: pubsub, out: out}, nil
}

func (b *redisBus) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub *goredis.PubSub
	out    chan []byte
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
