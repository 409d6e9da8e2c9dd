package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/app"
	"github.com/AakashB275/BrandModel/internal/config"
	"github.com/AakashB275/BrandModel/internal/kvstore"
	"github.com/AakashB275/BrandModel/internal/logger"
	"github.com/AakashB275/BrandModel/internal/metrics"
	"github.com/AakashB275/BrandModel/internal/queue"
	"github.com/AakashB275/BrandModel/internal/remote"
	"github.com/AakashB275/BrandModel/internal/remote/postgres"
	"github.com/AakashB275/BrandModel/internal/store"
)

// runtime is a fully wired core plus everything that must be closed with it.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	core     *app.Core
	registry *prometheus.Registry
	closers  []func()
}

// Close releases the core and its backends in reverse order of opening.
func (r *runtime) Close() {
	if r.core != nil {
		if err := r.core.Close(); err != nil {
			r.logger.Warn("close queue", zap.Error(err))
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	_ = r.logger.Sync()
}

// loadConfig reads the config file named by the global flag.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// newLogger returns the JSON logger for long-running commands and a console
// logger for one-shot ones. --verbose forces debug.
func newLogger(cfg config.Config, opts *RootOptions, console bool) (*zap.Logger, error) {
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	if console {
		if !opts.Verbose {
			level = "warn"
		}
		return logger.NewConsole(level)
	}
	return logger.New(level)
}

// openRuntime wires the queue backend, the remote store and the core from
// configuration.
func openRuntime(ctx context.Context, opts *RootOptions, console bool) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg, opts, console)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "create logger", err)
	}

	r := &runtime{cfg: cfg, logger: log, registry: prometheus.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	q, local, err := openQueue(ctx, cfg.Queue, log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open queue", err)
	}
	rs, err := openRemote(ctx, cfg.Remote, log, r)
	if err != nil {
		q.Close()
		return nil, WrapExitError(ExitCommandError, "open remote store", err)
	}

	coreOpts := []app.Option{
		app.WithExecutorConfig(cfg.Retry.Executor()),
		app.WithMatchTTL(cfg.Match.StandardTTL, cfg.Match.PremiumTTL),
		app.WithPingInterval(cfg.Connectivity.PingInterval),
		app.WithAnalytics(cfg.Analytics.MaxEvents, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval),
		app.WithCacheMaxAge(cfg.Cache.MaxAge),
		app.WithMetrics(metrics.NewCollector(r.registry)),
		app.WithLogger(log),
	}
	if local != nil {
		coreOpts = append(coreOpts, app.WithLocalStore(local))
	}
	core, err := app.New(ctx, q, rs, coreOpts...)
	if err != nil {
		q.Close()
		return nil, WrapExitError(ExitCommandError, "start core", err)
	}
	r.core = core
	ok = true
	return r, nil
}

// openQueue returns the durable queue. Only the SQLite backend carries the
// local store used by the offline cache and analytics buffer.
func openQueue(ctx context.Context, cfg config.QueueConfig, log *zap.Logger) (*queue.Queue, *store.Store, error) {
	qopts := []queue.Option{queue.WithLogger(log.Named("queue"))}

	switch cfg.Backend {
	case "sqlite":
		return queue.OpenSQLite(ctx, cfg.Path, qopts...)
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		q, err := queue.New(ctx, kvstore.New(client, cfg.RedisPrefix, log.Named("kvstore")), qopts...)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return q, nil, nil
	case "memory":
		q, err := queue.New(ctx, queue.NewMemoryStorage(), qopts...)
		return q, nil, err
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
}

func openRemote(ctx context.Context, cfg config.RemoteConfig, log *zap.Logger, r *runtime) (remote.Store, error) {
	switch cfg.Backend {
	case "memory":
		log.Warn("using in-memory remote store; documents are lost on exit")
		return remote.NewMemoryStore(), nil
	case "postgres":
		if cfg.Migrate {
			if err := postgres.Migrate(cfg.DSN); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		st := postgres.New(pool)
		r.closers = append(r.closers, st.Close)
		return st, nil
	}
	return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
}
