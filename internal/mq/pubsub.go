package mq

import (
	"context"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/samber/oops"
	"google.golang.org/api/option"

	"github.com/keyward/apiserver/config"
)

// PubSubClient wraps the Google Cloud Pub/Sub SDK client.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, oops.Code("MQ_CONFIG_INVALID").Errorf("PUBSUB_PROJECT_ID is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, oops.Code("MQ_CONNECT_FAILED").With("backend", BackendPubSub).Wrap(err)
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: cfg.SubscriptionSuffix,
	}, nil
}

// Publish sends a message to the named topic. Pub/Sub assigns the id; the
// returned value is the server id.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := checkChannel(channel); err != nil {
		return "", err
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", oops.Code("MQ_PUBLISH_FAILED").With("channel", channel).Wrap(err)
	}

	withID := make(map[string]string, len(attrs)+1)
	for key, value := range attrs {
		withID[key] = value
	}
	withID["message_id"] = newMessageID()

	id, err := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: withID}).Get(ctx)
	if err != nil {
		return "", oops.Code("MQ_PUBLISH_FAILED").With("channel", channel).Wrap(err)
	}
	return id, nil
}

// Subscribe consumes messages from the channel's subscription until ctx is
// done. Failed messages are nacked for redelivery.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := checkChannel(channel); err != nil {
		return err
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return oops.Code("MQ_SUBSCRIBE_FAILED").With("channel", channel).Wrap(err)
	}

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic)
	if err != nil {
		return oops.Code("MQ_SUBSCRIBE_FAILED").With("channel", channel).Wrap(err)
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: msg.Attributes,
		}
		if err := handler(ctx, message); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{Topic: topic})
	}
	return sub, nil
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}
