package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"safety-scheduler/internal/api"
	"safety-scheduler/internal/config"
	"safety-scheduler/internal/logging"
	"safety-scheduler/internal/messages"
	"safety-scheduler/internal/metrics"
	"safety-scheduler/internal/scheduler"
	redisstore "safety-scheduler/internal/store/redis"
)

const (
	connectTimeout  = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		bootLog := logging.New(logging.Config{}, "api")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Logging, "api")
	if err := cfg.ValidateForAPI(); err != nil {
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("safety", reg)

	gin.SetMode(gin.ReleaseMode)
	h := api.NewHandler(engine,
		api.WithMessages(snapshots),
		api.WithPinger(store),
		api.WithRefTTLCap(cfg.Scheduler.RefTTLCap),
		api.WithDedupeTTL(cfg.Scheduler.DedupeTTL),
		api.WithLogger(log.With().Str("component", "http").Logger()),
	)
	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(h, m, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.API.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	log.Info().Msg("api stopped")
}
