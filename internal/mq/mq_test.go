package mq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/apiserver/config"
)

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	broker := NewMemoryBroker(4)
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := broker.Publish(ctx, "password-reset", []byte(`{"a":1}`), map[string]string{"kind": "reset"})
	require.NoError(t, err)
	assert.Len(t, id, 26)

	received := make(chan Message, 1)
	subCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- broker.Subscribe(subCtx, "password-reset", func(_ context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, id, msg.ID)
		assert.JSONEq(t, `{"a":1}`, string(msg.Data))
		assert.Equal(t, "reset", msg.Attributes["kind"])
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMemoryBroker_RedeliversOnce(t *testing.T) {
	broker := NewMemoryBroker(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := broker.Publish(ctx, "q", []byte("x"), nil)
	require.NoError(t, err)

	var attempts atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- broker.Subscribe(ctx, "q", func(context.Context, Message) error {
			if attempts.Add(1) == 2 {
				_ = broker.Close()
			}
			return errors.New("fail")
		})
	}()

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestMemoryBroker_RequiresChannel(t *testing.T) {
	broker := NewMemoryBroker(1)
	defer broker.Close()

	_, err := broker.Publish(context.Background(), " ", nil, nil)
	assert.ErrorIs(t, err, ErrChannelRequired)
	assert.ErrorIs(t, broker.Subscribe(context.Background(), "", nil), ErrChannelRequired)
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "kafka", config.Config{})
	assert.Error(t, err)

	_, err = Open(ctx, BackendRabbitMQ, config.Config{})
	assert.ErrorContains(t, err, "RABBITMQ_URL")

	_, err = Open(ctx, BackendPubSub, config.Config{})
	assert.ErrorContains(t, err, "PUBSUB_PROJECT_ID")
}
