package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	StatisticsTopic = "fl/rounds/statistics"
	UpdatesTopic    = "fl/policy/updates"
)

var (
	ErrEmptyTopic   = errors.New("empty topic")
	ErrDisconnected = errors.New("pubsub client is disconnected")
)

type Handler func(topic string, payload []byte) error

// PubSub moves opaque payloads between isolated participants.
type PubSub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Unsubscribe(ctx context.Context, topic string) error
	Disconnect(ctx context.Context) error
}

// Topic joins non-empty segments with '/'.
func Topic(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}

	return strings.Join(out, "/")
}

// ClientStatisticsTopic is where one client publishes its round statistics.
func ClientStatisticsTopic(base, clientID string) string {
	return Topic(base, StatisticsTopic, clientID)
}

// Match reports whether topic matches an MQTT style filter using '+' for one
// level and a trailing '#' for any number of levels.
func Match(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}

	return len(fl) == len(tl)
}

// PublishWithRetry retries a publish with exponential backoff until it is
// accepted, tries run out or ctx ends.
func PublishWithRetry(ctx context.Context, ps PubSub, topic string, payload []byte, tries uint, initial time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := ps.Publish(ctx, topic, payload)
		if errors.Is(err, ErrEmptyTopic) || errors.Is(err, ErrDisconnected) {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(max(tries, 1)))

	return err
}
