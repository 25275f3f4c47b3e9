package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/spooler"
	"github.com/aretw0/spooler/internal/config"
	"github.com/aretw0/spooler/pkg/adapters/file"
	"github.com/aretw0/spooler/pkg/adapters/memory"
	"github.com/aretw0/spooler/pkg/adapters/redis"
	"github.com/aretw0/spooler/pkg/observability"
	"github.com/aretw0/spooler/pkg/persistence/middleware"
	"github.com/aretw0/spooler/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// newRegistry builds the session registry selected by cfg.
// The returned close function is never nil.
func newRegistry(cfg config.Config) (ports.SessionRegistry, func() error, error) {
	switch cfg.Registry {
	case "memory":
		return memory.NewRegistry(), func() error { return nil }, nil
	case "redis":
		var opts []redis.Option
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redis.WithPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.Redis.TTL))
		}
		r := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown registry %q", cfg.Registry)
	}
}

// newSpooler builds the spooler described by cfg, reporting metrics to reg.
func newSpooler(cfg config.Config, registry ports.SessionRegistry, reg prometheus.Registerer, logger *slog.Logger) (*spooler.Spooler, error) {
	opts := []spooler.Option{
		spooler.WithMaxContentLength(int64(cfg.MaxContentLength)),
		spooler.WithRegistry(registry),
		spooler.WithLogger(logger),
	}
	if ttl, ok := registry.(interface{ TTL() time.Duration }); ok && ttl.TTL() > 0 {
		opts = append(opts, spooler.WithRegistryRefresh(ttl.TTL()/2))
	}

	var factory ports.StoreFactory
	switch cfg.Storage {
	case "file":
		factory = file.NewFactory(cfg.TempDir)
	case "memory":
		factory = memory.NewFactory()
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	if cfg.Encryption.Enabled() {
		key, fallback, err := cfg.Encryption.Keys()
		if err != nil {
			return nil, err
		}
		factory = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    key,
			FallbackKeys: fallback,
		})(factory)
	}
	opts = append(opts, spooler.WithStoreFactory(factory))

	if reg != nil {
		opts = append(opts, spooler.WithLifecycleHooks(observability.NewMetrics(reg).Hooks()))
	}

	return spooler.New(opts...)
}
