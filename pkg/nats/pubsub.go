// Package nats carries federation traffic over core NATS subjects.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/nats-io/nats.go"
)

type pubsub struct {
	nc     *nats.Conn
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	logger *slog.Logger
}

var _ messaging.PubSub = (*pubsub)(nil)

// Connect dials url and names the connection after clientID.
func Connect(url, clientID string, logger *slog.Logger) (messaging.PubSub, error) {
	nc, err := nats.Connect(url, nats.Name(clientID), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("NATS connection established", slog.String("url", url), slog.String("client_id", clientID))

	return &pubsub{
		nc:     nc,
		subs:   make(map[string]*nats.Subscription),
		logger: logger,
	}, nil
}

// Subject converts an MQTT style topic filter to a NATS subject.
func Subject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		switch l {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}

	return strings.Join(levels, ".")
}

// Topic converts a NATS subject back to its slash separated form.
func Topic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func (ps *pubsub) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return messaging.ErrEmptyTopic
	}
	if ps.nc.IsClosed() {
		return messaging.ErrDisconnected
	}

	if err := ps.nc.Publish(Subject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}

	return ps.nc.FlushWithContext(ctx)
}

func (ps *pubsub) Subscribe(_ context.Context, topic string, handler messaging.Handler) error {
	if topic == "" {
		return messaging.ErrEmptyTopic
	}

	sub, err := ps.nc.Subscribe(Subject(topic), func(msg *nats.Msg) {
		if err := handler(Topic(msg.Subject), msg.Data); err != nil {
			ps.logger.Warn("Failed to handle NATS message", slog.String("subject", msg.Subject), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", topic, err)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if old, ok := ps.subs[topic]; ok {
		_ = old.Unsubscribe()
	}
	ps.subs[topic] = sub

	return nil
}

func (ps *pubsub) Unsubscribe(_ context.Context, topic string) error {
	if topic == "" {
		return messaging.ErrEmptyTopic
	}

	ps.mu.Lock()
	sub, ok := ps.subs[topic]
	delete(ps.subs, topic)
	ps.mu.Unlock()

	if !ok {
		return nil
	}

	return sub.Unsubscribe()
}

func (ps *pubsub) Disconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := ps.nc.Drain(); err != nil {
		ps.nc.Close()

		return err
	}

	return nil
}
