package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/notify/kafka"
	redisnotify "github.com/warp/leave-engine/notify/redis"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/timeoff"
)

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

func openBackend(ctx context.Context, cfg config.DatabaseConfig) (timeoff.Backend, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Driver)
	}
}

// migrate runs schema migration without starting the server. The sqlite
// store migrates on open.
func migrate(ctx context.Context, cfg config.DatabaseConfig) error {
	if cfg.Driver == "memory" {
		return errors.New("memory driver has no schema to migrate")
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	return backend.Close()
}

type sinkSet struct {
	notifier timeoff.Notifier
	inbox    api.Inbox
	closers  []func(context.Context) error
}

func (s *sinkSet) close(ctx context.Context) error {
	var errs []error
	for _, c := range s.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildNotifier fans out to the log sink plus Kafka and Redis when
// configured. Workers == 0 publishes inline.
func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) *sinkSet {
	s := &sinkSet{}
	pubs := []notify.Publisher{notify.LogPublisher{Logger: logger.Named("notify.log")}}

	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		pubs = append(pubs, kp)
		s.closers = append(s.closers, func(context.Context) error { return kp.Close() })
		logger.Info("kafka notifications enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rp := redisnotify.NewPublisher(rdb, cfg.Redis.ChannelPrefix, cfg.Redis.InboxSize)
		pubs = append(pubs, rp)
		if cfg.Redis.InboxSize > 0 {
			s.inbox = rp
		}
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })
		logger.Info("redis notifications enabled", zap.String("addr", cfg.Redis.Addr))
	}

	pub := notify.Multi(pubs...)
	if cfg.Workers == 0 {
		s.notifier = notify.Inline{Publisher: pub, Logger: logger.Named("notify.inline")}
		return s
	}

	d := notify.NewDispatcher(pub, notify.Options{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		Logger:      logger,
	})
	s.notifier = d
	// drain the queue before closing the sinks it writes to
	s.closers = append([]func(context.Context) error{d.Close}, s.closers...)
	return s
}
