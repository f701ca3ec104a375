package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"safety-scheduler/internal/config"
	"safety-scheduler/internal/dispatch"
	"safety-scheduler/internal/kafka"
	"safety-scheduler/internal/logging"
	"safety-scheduler/internal/messages"
	"safety-scheduler/internal/metrics"
	"safety-scheduler/internal/scheduler"
	redisstore "safety-scheduler/internal/store/redis"
	"safety-scheduler/internal/transport"
)

const connectTimeout = 2 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		bootLog := logging.New(logging.Config{}, "dispatcher")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Logging, "dispatcher")
	if err := cfg.ValidateForDispatcher(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	store := redisstore.New(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close error")
		}
	}()
	if err := store.SetRetry(cfg.Redis.Retry); err != nil {
		log.Fatal().Err(err).Msg("invalid redis retry config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	if err := store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping failed")
	}
	cancel()

	engine := scheduler.New(store,
		scheduler.WithKeys(scheduler.PrefixedKeys(cfg.Scheduler.KeyPrefix)),
		scheduler.WithIDLength(cfg.Scheduler.IDLength),
		scheduler.WithLogger(log.With().Str("component", "scheduler").Logger()),
	)
	snapshots := messages.New(store, cfg.Messages.SnapshotTTL)

	notifier, closeNotifier, err := transport.Build(cfg, snapshots, log)
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.Notifier.Transport).Msg("notifier init failed")
	}
	defer closeNotifier()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("safety", reg)

	loop, err := dispatch.New(engine, notifier, dispatch.Config{
		Interval:    cfg.Dispatcher.Interval,
		ExecTimeout: cfg.Dispatcher.ExecTimeout,
	},
		dispatch.WithLogger(log.With().Str("component", "dispatch").Logger()),
		dispatch.WithMetrics(m),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("dispatch loop init failed")
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var metricsServer *http.Server
	if cfg.Dispatcher.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.Dispatcher.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	ingestDone := make(chan struct{})
	if cfg.Kafka.SnapshotsTopic != "" {
		consumer, err := kafka.NewKafkaGoConsumer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka snapshot consumer init failed")
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Warn().Err(err).Msg("kafka consumer close error")
			}
		}()
		go func() {
			defer close(ingestDone)
			ilog := log.With().Str("component", "snapshots").Logger()
			if err := snapshots.Ingest(runCtx, consumer, ilog); err != nil && !errors.Is(err, context.Canceled) {
				ilog.Error().Err(err).Msg("snapshot ingest stopped")
			}
		}()
	} else {
		close(ingestDone)
	}

	if err := loop.Start(runCtx); err != nil {
		log.Fatal().Err(err).Msg("dispatch loop start failed")
	}
	log.Info().
		Dur("interval", cfg.Dispatcher.Interval).
		Str("transport", cfg.Notifier.Transport).
		Str("redis", cfg.Redis.Addr).
		Msg("dispatcher running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownTimeout)
	defer cancel()
	if err := loop.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("dispatcher shutdown timed out; in-flight tasks abandoned")
	}
	cancelRun()
	<-ingestDone
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
	log.Info().Msg("dispatcher stopped")
}
