package kafka

import (
	"context"
	"fmt"
	"strings"
)

type Config struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	SnapshotsTopic     string   `yaml:"snapshots_topic"`
	GroupID            string   `yaml:"group_id"`
	ClientID           string   `yaml:"client_id"`
}

// ValidateNotifications checks what publishing outbound chat messages needs.
func (c Config) ValidateNotifications() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if strings.TrimSpace(c.NotificationsTopic) == "" {
		return fmt.Errorf("kafka.notifications_topic is required")
	}
	return nil
}

// ValidateSnapshots checks what consuming message snapshots needs.
func (c Config) ValidateSnapshots() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if strings.TrimSpace(c.SnapshotsTopic) == "" {
		return fmt.Errorf("kafka.snapshots_topic is required")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return fmt.Errorf("kafka.group_id is required")
	}
	return nil
}

type Message struct {
	Key   string
	Value []byte
}

type Producer interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

type Consumer interface {
	Poll(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}
