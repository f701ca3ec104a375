// Package kafka publishes outbound chat messages to a Kafka topic for a
// chat gateway to deliver.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"safety-scheduler/internal/kafka"
	"safety-scheduler/internal/notify"
)

const (
	KindChannel = "channel"
	KindDirect  = "direct"
)

// Envelope is the JSON value of every published message.
type Envelope struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Target uint64    `json:"target,string"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

type Notifier struct {
	producer kafka.Producer
	topic    string
	messages notify.MessageSource
	now      func() time.Time
}

// New returns a Notifier publishing to topic. Message views are read from
// messages, since the gateway on the other side of the topic owns the chat
// connection.
func New(producer kafka.Producer, topic string, messages notify.MessageSource) (*Notifier, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("notifications topic is required")
	}
	if messages == nil {
		return nil, errors.New("message source is required")
	}
	return &Notifier{producer: producer, topic: topic, messages: messages, now: time.Now}, nil
}

func (n *Notifier) SendMessage(ctx context.Context, channel uint64, text string) error {
	return n.publish(ctx, KindChannel, channel, text)
}

func (n *Notifier) DirectMessage(ctx context.Context, user uint64, text string) error {
	return n.publish(ctx, KindDirect, user, text)
}

func (n *Notifier) FetchMessage(ctx context.Context, channel, message uint64) (notify.MessageView, error) {
	return n.messages.Fetch(ctx, channel, message)
}

func (n *Notifier) publish(ctx context.Context, kind string, target uint64, text string) error {
	env := Envelope{
		ID:     uuid.NewString(),
		Kind:   kind,
		Target: target,
		Text:   text,
		SentAt: n.now().UTC(),
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", kind, err)
	}
	key := kind + ":" + strconv.FormatUint(target, 10)
	if err := n.producer.Publish(ctx, n.topic, kafka.Message{Key: key, Value: value}); err != nil {
		return fmt.Errorf("send %s message to %d: %w", kind, target, err)
	}
	return nil
}
