// Package bootstrap wires configured backends for the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/price-tracker/internal/catalog"
	"github.com/user/price-tracker/internal/config"
	"github.com/user/price-tracker/internal/crawler"
	"github.com/user/price-tracker/internal/proxy"
	"github.com/user/price-tracker/internal/storage"
	"github.com/user/price-tracker/internal/usecase"
)

// Catalog is a product store that is also readable by the API.
type Catalog interface {
	catalog.Store
	catalog.Reader
	Close() error
}

// Tracker is a run tracker the health check can probe.
type Tracker interface {
	usecase.RunTracker
	Ping(ctx context.Context) error
}

// OpenCatalog opens the store named by STORE_DRIVER.
func OpenCatalog(ctx context.Context, cfg *config.Config) (Catalog, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("POSTGRES_URL is required for the %s driver", config.DriverPostgres)
		}
		s, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// OpenTracker returns a Redis tracker when REDIS_ADDR is set and an
// in-process one otherwise. The returned func closes it.
func OpenTracker(cfg *config.Config, document string) (Tracker, func() error) {
	if cfg.RedisAddr == "" {
		return storage.NewMemoryRunTracker(), func() error { return nil }
	}
	t := storage.NewRedisRunTracker(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, document)
	return t, t.Close
}

// ExtractorFactory starts a fresh browser for every run. Each run takes the
// next proxy from the rotation.
func ExtractorFactory(cfg *config.Config, logger *zap.Logger) usecase.ExtractorFactory {
	pm := proxy.NewManager(cfg.ProxyList())
	opts := crawler.FetcherOptions{
		Headless:          cfg.Headless,
		AcceptLanguage:    cfg.AcceptLanguage,
		NavigationTimeout: cfg.Navigation(),
		WaitTimeout:       cfg.PageWait(),
	}
	return func(ctx context.Context) (crawler.Extractor, func(), error) {
		f, err := crawler.NewChromeFetcher(opts, pm, logger)
		if err != nil {
			return nil, nil, err
		}
		return crawler.NewBrowserExtractor(f), f.Close, nil
	}
}

// Options maps the configuration onto use case options.
func Options(cfg *config.Config) []usecase.Option {
	return []usecase.Option{
		usecase.WithLockTTL(cfg.LockTTL()),
		usecase.WithControllerOptions(
			crawler.WithRoundDelay(cfg.Delay()),
			crawler.WithParallelFetch(cfg.ParallelFetch),
		),
	}
}
