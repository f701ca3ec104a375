package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"

	"safety-scheduler/internal/kafka"
	"safety-scheduler/internal/logging"
	"safety-scheduler/internal/retry"
)

const (
	TransportLog      = "log"
	TransportKafka    = "kafka"
	TransportTelegram = "telegram"
)

type Config struct {
	API        APIConfig        `yaml:"api"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Messages   MessagesConfig   `yaml:"messages"`
	Kafka      kafka.Config     `yaml:"kafka"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Logging    logging.Config   `yaml:"logging"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type DispatcherConfig struct {
	Interval        time.Duration `yaml:"interval"`
	ExecTimeout     time.Duration `yaml:"exec_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

type RedisConfig struct {
	Addr     string       `yaml:"addr"`
	Password string       `yaml:"password"`
	DB       int          `yaml:"db"`
	Retry    retry.Config `yaml:"retry"`
}

type SchedulerConfig struct {
	// KeyPrefix namespaces every scheduler key, so several deployments can
	// share one Redis database.
	KeyPrefix string        `yaml:"key_prefix"`
	IDLength  int           `yaml:"id_length"`
	// RefTTLCap bounds the lifetime of a reverse reference. Zero means a
	// reference lives exactly as long as its job.
	RefTTLCap time.Duration `yaml:"ref_ttl_cap"`
	DedupeTTL time.Duration `yaml:"dedupe_ttl"`
}

type NotifierConfig struct {
	Transport  string `yaml:"transport"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

type MessagesConfig struct {
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Path returns CONFIG_PATH or the default config location.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.API.Addr) == "" {
		c.API.Addr = ":8080"
	}
	if c.Dispatcher.Interval <= 0 {
		c.Dispatcher.Interval = 30 * time.Second
	}
	if c.Dispatcher.ExecTimeout <= 0 {
		c.Dispatcher.ExecTimeout = 30 * time.Second
	}
	if c.Dispatcher.ShutdownTimeout <= 0 {
		c.Dispatcher.ShutdownTimeout = 10 * time.Second
	}
	def := retry.DefaultConfig()
	if c.Redis.Retry.Base <= 0 {
		c.Redis.Retry.Base = def.Base
	}
	if c.Redis.Retry.Max <= 0 {
		c.Redis.Retry.Max = def.Max
	}
	if c.Redis.Retry.Jitter == 0 {
		c.Redis.Retry.Jitter = def.Jitter
	}
	if c.Scheduler.IDLength <= 0 {
		c.Scheduler.IDLength = 6
	}
	if c.Scheduler.DedupeTTL <= 0 {
		c.Scheduler.DedupeTTL = 24 * time.Hour
	}
	if strings.TrimSpace(c.Notifier.Transport) == "" {
		c.Notifier.Transport = TransportLog
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 20
	}
	if c.Messages.SnapshotTTL <= 0 {
		c.Messages.SnapshotTTL = 14 * 24 * time.Hour
	}
	if strings.TrimSpace(c.Kafka.GroupID) == "" {
		c.Kafka.GroupID = "safety-dispatcher"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = logging.FormatConsole
	}
}

func (c Config) ValidateForAPI() error {
	if strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr is required")
	}
	return c.validateStore()
}

func (c Config) ValidateForDispatcher() error {
	if c.Dispatcher.Interval < time.Second {
		return fmt.Errorf("dispatcher.interval must be at least 1s")
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	switch c.Notifier.Transport {
	case TransportLog:
	case TransportKafka:
		if err := c.Kafka.ValidateNotifications(); err != nil {
			return err
		}
	case TransportTelegram:
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required")
		}
	default:
		return fmt.Errorf("notifier.transport %q is not one of log, kafka, telegram", c.Notifier.Transport)
	}
	if c.Kafka.SnapshotsTopic != "" {
		if err := c.Kafka.ValidateSnapshots(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) ValidateForCLI() error {
	return c.validateStore()
}

func (c Config) validateStore() error {
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if err := c.Redis.Retry.Validate(); err != nil {
		return fmt.Errorf("redis.retry: %w", err)
	}
	if c.Scheduler.IDLength < 4 {
		return fmt.Errorf("scheduler.id_length must be at least 4")
	}
	return nil
}
