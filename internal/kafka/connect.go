package kafka

import (
	"context"
	"fmt"
	"io"
	"time"

	segkafka "github.com/segmentio/kafka-go"
)

const dialTimeout = 2 * time.Second

type dialFunc func(ctx context.Context, network, address string) (io.Closer, error)

// CheckConnectivity dials the first broker and hangs up, so binaries fail
// at startup instead of on the first publish.
func CheckConnectivity(ctx context.Context, brokers []string) error {
	return checkConnectivity(ctx, brokers, defaultDialer())
}

func checkConnectivity(ctx context.Context, brokers []string, dial dialFunc) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := dial(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka broker %s: %w", brokers[0], err)
	}
	return conn.Close()
}

func defaultDialer() dialFunc {
	dialer := &segkafka.Dialer{Timeout: dialTimeout}
	return func(ctx context.Context, network, address string) (io.Closer, error) {
		return dialer.DialContext(ctx, network, address)
	}
}
