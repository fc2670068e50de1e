// Package mq carries password reset notices between the API server and the
// mailer worker over RabbitMQ or Google Cloud Pub/Sub.
package mq

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/apiserver/config"
)

// Backend names accepted by Open.
const (
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

// ErrChannelRequired is returned when a publish or subscribe names no channel.
var ErrChannelRequired = errors.New("mq channel is required")

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Open connects to the named backend.
func Open(ctx context.Context, backend string, cfg config.Config) (Backend, error) {
	switch backend {
	case BackendRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case BackendPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, oops.Code("MQ_UNKNOWN_BACKEND").With("backend", backend).Errorf("unknown mq backend %q", backend)
	}
}

func checkChannel(channel string) error {
	if strings.TrimSpace(channel) == "" {
		return ErrChannelRequired
	}
	return nil
}

func newMessageID() string {
	return ulid.Make().String()
}
