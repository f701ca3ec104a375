// Package transport builds the configured outbound Notifier.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"safety-scheduler/internal/config"
	"safety-scheduler/internal/kafka"
	"safety-scheduler/internal/notify"
	notifykafka "safety-scheduler/internal/notify/kafka"
	"safety-scheduler/internal/notify/telegram"
)

const connectTimeout = 2 * time.Second

// Build returns the notifier named by cfg.Notifier.Transport, rate limited
// to cfg.Notifier.RatePerSec, and a func releasing its resources.
func Build(cfg config.Config, snapshots notify.MessageSource, log zerolog.Logger) (notify.Notifier, func(), error) {
	n, closeFn, err := build(cfg, snapshots, log)
	if err != nil {
		return nil, nil, fmt.Errorf("notifier %q: %w", cfg.Notifier.Transport, err)
	}
	return notify.NewRateLimited(n, cfg.Notifier.RatePerSec), closeFn, nil
}

func build(cfg config.Config, snapshots notify.MessageSource, log zerolog.Logger) (notify.Notifier, func(), error) {
	switch cfg.Notifier.Transport {
	case config.TransportKafka:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		if err := kafka.CheckConnectivity(ctx, cfg.Kafka.Brokers); err != nil {
			log.Warn().Err(err).Msg("kafka connectivity check failed")
		}
		cancel()
		producer, err := kafka.NewKafkaGoProducer(cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		n, err := notifykafka.New(producer, cfg.Kafka.NotificationsTopic, snapshots)
		if err != nil {
			_ = producer.Close()
			return nil, nil, err
		}
		return n, func() {
			if err := producer.Close(); err != nil {
				log.Warn().Err(err).Msg("kafka producer close error")
			}
		}, nil
	case config.TransportTelegram:
		n, err := telegram.NewFromToken(cfg.Telegram.Token, snapshots)
		if err != nil {
			return nil, nil, err
		}
		return n, func() {}, nil
	case config.TransportLog, "":
		return notify.NewLogged(log.With().Str("component", "notifier").Logger(), snapshots), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport")
	}
}
