package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`redis:
  addr: "localhost:6379"
  db: 0
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.API.Addr != ":8080" {
		t.Fatalf("api.addr default = %q", cfg.API.Addr)
	}
	if cfg.Dispatcher.Interval != 30*time.Second {
		t.Fatalf("dispatcher.interval default = %v", cfg.Dispatcher.Interval)
	}
	if cfg.Scheduler.IDLength != 6 {
		t.Fatalf("scheduler.id_length default = %d", cfg.Scheduler.IDLength)
	}
	if cfg.Scheduler.DedupeTTL != 24*time.Hour {
		t.Fatalf("scheduler.dedupe_ttl default = %v", cfg.Scheduler.DedupeTTL)
	}
	if cfg.Notifier.Transport != TransportLog {
		t.Fatalf("notifier.transport default = %q", cfg.Notifier.Transport)
	}
	if cfg.Redis.Retry.Base != 2*time.Millisecond || cfg.Redis.Retry.MaxAttempts != 0 {
		t.Fatalf("redis.retry default = %+v", cfg.Redis.Retry)
	}
	if err := cfg.ValidateForAPI(); err != nil {
		t.Fatalf("validate for api: %v", err)
	}
	if err := cfg.ValidateForDispatcher(); err != nil {
		t.Fatalf("validate for dispatcher: %v", err)
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`api:
  addr: ":9000"
dispatcher:
  interval: 10s
  shutdown_timeout: 5s
  metrics_addr: ":9100"
redis:
  addr: "redis:6379"
  retry:
    base: 5ms
    max: 1s
    jitter: 0.5
    max_attempts: 50
scheduler:
  key_prefix: "bot:"
  id_length: 8
notifier:
  transport: kafka
  rate_per_sec: 5
kafka:
  brokers: ["kafka:9092"]
  notifications_topic: "chat.outbound"
  snapshots_topic: "chat.snapshots"
logging:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.API.Addr != ":9000" || cfg.Dispatcher.Interval != 10*time.Second || cfg.Dispatcher.MetricsAddr != ":9100" {
		t.Fatalf("unexpected api/dispatcher: %+v %+v", cfg.API, cfg.Dispatcher)
	}
	if cfg.Redis.Retry.Max != time.Second || cfg.Redis.Retry.MaxAttempts != 50 {
		t.Fatalf("unexpected retry: %+v", cfg.Redis.Retry)
	}
	if cfg.Scheduler.KeyPrefix != "bot:" || cfg.Scheduler.IDLength != 8 {
		t.Fatalf("unexpected scheduler: %+v", cfg.Scheduler)
	}
	if cfg.Kafka.GroupID != "safety-dispatcher" {
		t.Fatalf("kafka.group_id default = %q", cfg.Kafka.GroupID)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q", cfg.Logging.Format)
	}
	if err := cfg.ValidateForDispatcher(); err != nil {
		t.Fatalf("validate for dispatcher: %v", err)
	}
}

func TestValidateForAPIRequiresRedis(t *testing.T) {
	cfg, err := Parse([]byte(`api:
  addr: ":8080"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.ValidateForAPI(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateForDispatcherTransport(t *testing.T) {
	cases := map[string]string{
		"kafka without topic": `redis: {addr: "r:6379"}
notifier: {transport: kafka}
kafka: {brokers: ["k:9092"]}
`,
		"telegram without token": `redis: {addr: "r:6379"}
notifier: {transport: telegram}
`,
		"unknown transport": `redis: {addr: "r:6379"}
notifier: {transport: carrier-pigeon}
`,
		"interval too short": `redis: {addr: "r:6379"}
dispatcher: {interval: 100ms}
`,
	}
	for name, doc := range cases {
		cfg, err := Parse([]byte(doc))
		if err != nil {
			t.Fatalf("%s: parse: %v", name, err)
		}
		if err := cfg.ValidateForDispatcher(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidateRejectsBadRetry(t *testing.T) {
	cfg, err := Parse([]byte(`redis:
  addr: "r:6379"
  retry:
    base: 1s
    max: 10ms
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.ValidateForCLI(); err == nil {
		t.Fatalf("expected error for max < base")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if got := Path(); got != "config/config.yaml" {
		t.Fatalf("default path = %q", got)
	}
	t.Setenv("CONFIG_PATH", "/etc/sched.yaml")
	if got := Path(); got != "/etc/sched.yaml" {
		t.Fatalf("path = %q", got)
	}
}
