package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/zulandar/tradepost/internal/config"
	"github.com/zulandar/tradepost/internal/db"
	"github.com/zulandar/tradepost/internal/logging"
	"github.com/zulandar/tradepost/internal/notify"
	"github.com/zulandar/tradepost/internal/pairlock"
	"github.com/zulandar/tradepost/internal/trade"
	"gorm.io/gorm"
)

const defaultConfigPath = "tradepost.yaml"

// loadConfig reads path, falling back to defaults when the file is absent.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// runtime is everything an operation command needs.
type runtime struct {
	cfg     *config.Config
	db      *gorm.DB
	svc     *trade.Service
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	logging.Sync()
}

func openRuntime(configPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	r := &runtime{cfg: cfg, db: gormDB}
	r.closers = append(r.closers, func() { db.Close(gormDB) })

	locker, closeLocker, err := newLocker(cfg)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.closers = append(r.closers, closeLocker)

	pub, err := newPublisher(cfg)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.closers = append(r.closers, func() { pub.Close() })

	r.svc = trade.New(gormDB, locker, pub, cfg)
	return r, nil
}

// newLocker builds the configured pair-lock backend.
func newLocker(cfg *config.Config) (pairlock.Locker, func(), error) {
	if cfg.Locking.Backend != "redis" {
		return pairlock.NewMemoryLocker(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return pairlock.NewRedisLocker(client, cfg.Locking.Lease), func() { client.Close() }, nil
}

// newPublisher connects to NATS when a URL is configured.
func newPublisher(cfg *config.Config) (notify.Publisher, error) {
	if cfg.NATS.URL == "" {
		return notify.Nop{}, nil
	}
	return notify.DialNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
}

// addCommonFlags registers --config and --as on an operation command.
func addCommonFlags(cmd *cobra.Command, configPath *string, as *uint) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Tradepost config file")
	cmd.Flags().UintVar(as, "as", 0, "acting user ID (required)")
	cmd.MarkFlagRequired("as")
}

// withService opens the runtime, runs fn and closes it.
func withService(cmd *cobra.Command, configPath string, fn func(ctx context.Context, svc *trade.Service) error) error {
	r, err := openRuntime(configPath)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(cmd.Context(), r.svc)
}
