package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/baqala/storefront/internal/services"
)

// PubSubCartPublisher publishes cart change notifications to a Pub/Sub topic.
type PubSubCartPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.CartEventPublisher = (*PubSubCartPublisher)(nil)

// NewPubSubCartPublisher constructs a Pub/Sub backed cart event publisher.
func NewPubSubCartPublisher(topic *pubsub.Topic) (*PubSubCartPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub cart publisher: topic is required")
	}
	return &PubSubCartPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCartChanged sends the change and waits for the server-assigned message id.
// Messages for one owner share an ordering key when the topic has ordering enabled.
func (p *PubSubCartPublisher) PublishCartChanged(ctx context.Context, change services.CartChange) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub cart publisher: not initialised")
	}

	data, err := p.marshal(change)
	if err != nil {
		return "", fmt.Errorf("marshal cart change: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "ownerKind", string(change.OwnerKind))
	setAttr(attrs, "ownerId", change.OwnerID)
	setAttr(attrs, "state", string(change.State))
	setAttr(attrs, "reason", change.Reason)

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = string(change.OwnerKind) + ":" + strings.TrimSpace(change.OwnerID)
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish cart change: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubCartPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
