package messaging_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fedrepair/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMatch(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		match  bool
	}{
		{"fl/policy/updates", "fl/policy/updates", true},
		{"fl/policy/updates", "fl/policy", false},
		{"fl/rounds/statistics/+", "fl/rounds/statistics/client-a", true},
		{"fl/rounds/statistics/+", "fl/rounds/statistics/a/b", false},
		{"fl/#", "fl/rounds/statistics/a", true},
		{"fl/#", "other/rounds", false},
		{"+/policy/updates", "prod/policy/updates", true},
	}

	for _, tc := range cases {
		t.Run(tc.filter+" "+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.match, messaging.Match(tc.filter, tc.topic))
		})
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "fl/rounds/statistics/a", messaging.ClientStatisticsTopic("", "a"))
	assert.Equal(t, "prod/fl/rounds/statistics/a", messaging.ClientStatisticsTopic("/prod/", "a"))
}

func TestBusDelivery(t *testing.T) {
	bus := messaging.NewBus(logger)
	ctx := context.Background()

	aggregator := bus.Connect("aggregator")
	clientA := bus.Connect("a")
	clientB := bus.Connect("b")

	received := make(chan string, 4)
	require.NoError(t, aggregator.Subscribe(ctx, messaging.Topic(messaging.StatisticsTopic, "+"), func(topic string, payload []byte) error {
		received <- topic + "=" + string(payload)

		return nil
	}))

	require.NoError(t, clientA.Publish(ctx, messaging.ClientStatisticsTopic("", "a"), []byte("1")))
	require.NoError(t, clientB.Publish(ctx, messaging.ClientStatisticsTopic("", "b"), []byte("2")))
	require.NoError(t, clientB.Publish(ctx, messaging.UpdatesTopic, []byte("ignored")))

	got := map[string]bool{}
	for range 2 {
		select {
		case m := <-received:
			got[m] = true
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
	assert.Equal(t, map[string]bool{
		"fl/rounds/statistics/a=1": true,
		"fl/rounds/statistics/b=2": true,
	}, got)

	require.NoError(t, aggregator.Unsubscribe(ctx, messaging.Topic(messaging.StatisticsTopic, "+")))
	require.NoError(t, clientA.Publish(ctx, messaging.ClientStatisticsTopic("", "a"), []byte("3")))
	select {
	case m := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %s", m)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBusDisconnect(t *testing.T) {
	bus := messaging.NewBus(logger)
	c := bus.Connect("c")
	require.NoError(t, c.Disconnect(context.Background()))

	assert.ErrorIs(t, c.Publish(context.Background(), "x", nil), messaging.ErrDisconnected)
	assert.ErrorIs(t, c.Subscribe(context.Background(), "x", nil), messaging.ErrDisconnected)
	assert.ErrorIs(t, c.Publish(context.Background(), "", nil), messaging.ErrEmptyTopic)
}

type flakyPubSub struct {
	mock.Mock
	messaging.PubSub
}

func (f *flakyPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	return f.Called(ctx, topic, payload).Error(0)
}

func TestPublishWithRetry(t *testing.T) {
	errBroker := errors.New("broker busy")

	ps := &flakyPubSub{}
	ps.On("Publish", mock.Anything, "t", []byte("p")).Return(errBroker).Twice()
	ps.On("Publish", mock.Anything, "t", []byte("p")).Return(nil).Once()

	require.NoError(t, messaging.PublishWithRetry(context.Background(), ps, "t", []byte("p"), 5, time.Millisecond))
	ps.AssertExpectations(t)

	var calls atomic.Int32
	failing := &flakyPubSub{}
	failing.On("Publish", mock.Anything, "t", mock.Anything).Run(func(mock.Arguments) { calls.Add(1) }).Return(errBroker)
	err := messaging.PublishWithRetry(context.Background(), failing, "t", nil, 3, time.Millisecond)
	assert.ErrorIs(t, err, errBroker)
	assert.Equal(t, int32(3), calls.Load())
}
