package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"safety-scheduler/internal/config"
	"safety-scheduler/internal/logging"
	"safety-scheduler/internal/messages"
	"safety-scheduler/internal/notify"
	"safety-scheduler/internal/scheduler"
	redisstore "safety-scheduler/internal/store/redis"
	"safety-scheduler/internal/transport"
)

const connectTimeout = 2 * time.Second

// env is everything a subcommand needs once the config is loaded.
type env struct {
	cfg    config.Config
	engine *scheduler.Engine
	log    zerolog.Logger
	close  func()

	// notifier is built on first use; only dispatch-once needs one.
	notifier    notify.Notifier
	newNotifier func() (notify.Notifier, func(), error)
}

func (e *env) outbound() (notify.Notifier, func(), error) {
	if e.notifier != nil {
		return e.notifier, func() {}, nil
	}
	if e.newNotifier == nil {
		return nil, nil, fmt.Errorf("no notifier configured")
	}
	return e.newNotifier()
}

// opener builds an env from a config file path. Tests swap it for one
// backed by miniredis.
type opener func(ctx context.Context, path string) (*env, error)

func defaultOpener(ctx context.Context, path string) (*env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForCLI(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logging.New(cfg.Logging, "schedctl")

	store := redisstore.New(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := store.SetRetry(cfg.Redis.Retry); err != nil {
		store.Close()
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}

	engine := scheduler.New(store,
		scheduler.WithKeys(scheduler.PrefixedKeys(cfg.Scheduler.KeyPrefix)),
		scheduler.WithIDLength(cfg.Scheduler.IDLength),
		scheduler.WithLogger(log),
	)
	snapshots := messages.New(store, cfg.Messages.SnapshotTTL)
	return &env{
		cfg:    cfg,
		engine: engine,
		log:    log,
		close:  func() { store.Close() },
		newNotifier: func() (notify.Notifier, func(), error) {
			return transport.Build(cfg, snapshots, log)
		},
	}, nil
}

func newRootCmd(open opener) *cobra.Command {
	var configPath string
	var e *env

	root := &cobra.Command{
		Use:          "schedctl",
		Short:        "Inspect and manage scheduled jobs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.Path()
			}
			var err error
			e, err = open(cmd.Context(), configPath)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e != nil && e.close != nil {
				e.close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config/config.yaml)")

	get := func() *env { return e }
	root.AddCommand(
		newReserveCmd(get),
		newGetCmd(get),
		newRemoveCmd(get),
		newPeekCmd(get),
		newLookupCmd(get),
		newCountCmd(get),
		newClearDueCmd(get),
		newClearCmd(get),
		newDispatchOnceCmd(get),
	)
	return root
}
