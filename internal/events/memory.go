package events

import (
	"context"
	"encoding/json"
	"sync"
)

// memoryBus is an in-process Bus used in tests and single-node deployments.
type memoryBus struct {
	mu     sync.Mutex
	topics map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBus builds a Bus that delivers within the current process only.
func NewMemoryBus() Bus {
	return &memoryBus{topics: make(map[string]map[*memorySubscription]struct{})}
}

func (b *memoryBus) Publish(_ context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	subs := make([]*memorySubscription, 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.push(raw)
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub := &memorySubscription{
		bus:   b,
		topic: topic,
		out:   make(chan []byte, 64),
	}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySubscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(b.topics, topic)
	}
	return nil
}

type memorySubscription struct {
	bus   *memoryBus
	topic string
	out   chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memorySubscription) push(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- raw:
	default:
	}
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	if subs := s.bus.topics[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	s.bus.mu.Unlock()

	s.closeLocked()
	return nil
}

func (s *memorySubscription) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
