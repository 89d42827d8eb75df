package messaging

import (
	"context"
	"log/slog"
	"sync"
)

const defQueueSize = 64

type message struct {
	topic   string
	payload []byte
}

type subscription struct {
	owner   *client
	filter  string
	handler Handler
	queue   chan message
	done    chan struct{}
}

// Bus is an in-process broker. Each participant connects its own client, and
// every subscription is served by a dedicated goroutine reading from a
// channel, so participants never share state beyond copied payloads.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

type client struct {
	bus    *Bus
	id     string
	mu     sync.Mutex
	closed bool
}

var _ PubSub = (*client)(nil)

func (b *Bus) Connect(id string) PubSub {
	return &client{bus: b, id: id}
}

func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if c.isClosed() {
		return ErrDisconnected
	}

	c.bus.mu.RLock()
	targets := make([]*subscription, 0, len(c.bus.subs))
	for _, s := range c.bus.subs {
		if Match(s.filter, topic) {
			targets = append(targets, s)
		}
	}
	c.bus.mu.RUnlock()

	for _, s := range targets {
		msg := message{topic: topic, payload: append([]byte(nil), payload...)}
		select {
		case s.queue <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (c *client) Subscribe(_ context.Context, topic string, handler Handler) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if c.isClosed() {
		return ErrDisconnected
	}

	s := &subscription{
		owner:   c,
		filter:  topic,
		handler: handler,
		queue:   make(chan message, defQueueSize),
		done:    make(chan struct{}),
	}

	c.bus.mu.Lock()
	c.bus.subs = append(c.bus.subs, s)
	c.bus.mu.Unlock()

	go c.bus.serve(s)

	return nil
}

func (c *client) Unsubscribe(_ context.Context, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	c.bus.remove(func(s *subscription) bool {
		return s.owner == c && s.filter == topic
	})

	return nil
}

func (c *client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.bus.remove(func(s *subscription) bool {
		return s.owner == c
	})

	return nil
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (b *Bus) remove(match func(*subscription) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[:0]
	for _, s := range b.subs {
		if match(s) {
			close(s.done)

			continue
		}
		kept = append(kept, s)
	}
	b.subs = kept
}

func (b *Bus) serve(s *subscription) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			if err := s.handler(msg.topic, msg.payload); err != nil {
				b.logger.Warn("Failed to handle bus message",
					slog.String("client", s.owner.id),
					slog.String("topic", msg.topic),
					slog.Any("error", err),
				)
			}
		}
	}
}
