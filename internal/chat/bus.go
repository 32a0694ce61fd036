package chat

import (
	"context"
	"errors"
	"sync"
)

// Bus fans envelopes out to every hub instance, the publisher included. Hubs
// skip their own envelopes by origin.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Subscription represents an active envelope stream.
type Subscription interface {
	Events() <-chan Envelope
	Close()
}

var errMissingEvent = errors.New("envelope event is required")

// NewMemoryBus returns an in-process bus for tests and single-process
// deployments. Slow subscribers lose envelopes rather than blocking
// publishers.
func NewMemoryBus(buffer int) Bus {
	if buffer <= 0 {
		buffer = 32
	}
	return &memoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

type memoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
}

func (b *memoryBus) Publish(ctx context.Context, env Envelope) error {
	if env.Event == "" {
		return errMissingEvent
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(context.Context) (Subscription, error) {
	sub := &memorySubscription{
		bus: b,
		ch:  make(chan Envelope, b.buffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *memoryBus) Close() error {
	b.mu.RLock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

type memorySubscription struct {
	once sync.Once
	bus  *memoryBus
	ch   chan Envelope
}

func (s *memorySubscription) Events() <-chan Envelope {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
