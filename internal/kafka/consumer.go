package kafka

import (
	"context"
	"fmt"

	segkafka "github.com/segmentio/kafka-go"
)

type reader interface {
	FetchMessage(ctx context.Context) (segkafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...segkafka.Message) error
	Close() error
}

// KafkaGoConsumer reads the snapshots topic with explicit commits. Only the
// most recently polled message can be committed, so callers must finish one
// message before polling the next; committing a later offset would
// acknowledge everything before it.
type KafkaGoConsumer struct {
	reader   reader
	inflight *segkafka.Message
}

func NewKafkaGoConsumer(cfg Config) (*KafkaGoConsumer, error) {
	if err := cfg.ValidateSnapshots(); err != nil {
		return nil, err
	}
	r := segkafka.NewReader(segkafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.SnapshotsTopic,
		GroupID: cfg.GroupID,
	})
	return newKafkaGoConsumerWithReader(r), nil
}

func newKafkaGoConsumerWithReader(r reader) *KafkaGoConsumer {
	return &KafkaGoConsumer{reader: r}
}

// Poll fetches the next message. An uncommitted message from an earlier
// Poll is forgotten and will be redelivered after a restart.
func (c *KafkaGoConsumer) Poll(ctx context.Context) (Message, error) {
	c.inflight = nil
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	c.inflight = &msg
	return Message{Key: string(msg.Key), Value: msg.Value}, nil
}

// Commit acknowledges the last polled message, which must be msg.
func (c *KafkaGoConsumer) Commit(ctx context.Context, msg Message) error {
	if c.inflight == nil || string(c.inflight.Key) != msg.Key {
		return fmt.Errorf("commit %q: message is not the one in flight", msg.Key)
	}
	raw := *c.inflight
	c.inflight = nil
	return c.reader.CommitMessages(ctx, raw)
}

func (c *KafkaGoConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
