package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/techmist/catalog-sync/internal/catalog"
	"github.com/techmist/catalog-sync/internal/platform/db"
)

// CatalogDeps carries what both binaries need to build the catalog service.
type CatalogDeps struct {
	Config   *Config
	Logger   *slog.Logger
	Redis    *redis.Client
	Observer catalog.SyncObserver
}

// BuildCatalogService opens the configured store and assembles the catalog service.
// The returned cleanup releases the store.
func BuildCatalogService(ctx context.Context, deps CatalogDeps) (*catalog.Service, func(), error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		repo    catalog.RepositoryPort
		cleanup = func() {}
	)
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		logger.Warn("using in-memory catalog store, data is lost on restart")
		repo = catalog.NewMemoryRepository()
	case StoreDriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		repo = catalog.NewRepository(pool)
		cleanup = pool.Close
	default:
		return nil, nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	var trash catalog.TrashPort
	if deps.Redis != nil {
		trash = catalog.NewTrash(deps.Redis, cfg.Catalog.TrashTTL)
	}

	fetcher := catalog.NewFetcher(catalog.FetcherConfig{
		ConnectTimeout: cfg.Catalog.ConnectTimeout,
		ReadTimeout:    cfg.Catalog.ReadTimeout,
		UserAgent:      cfg.Catalog.UserAgent,
		AcceptLanguage: cfg.Catalog.AcceptLanguage,
		MaxBodyBytes:   cfg.Catalog.MaxFeedBytes,
		Logger:         logger,
	})
	service := catalog.NewService(repo, fetcher, trash, catalog.ServiceConfig{
		FeedURL:     cfg.Catalog.FeedURL,
		FallbackURL: cfg.Catalog.FallbackURL,
	}, logger, deps.Observer)
	return service, cleanup, nil
}
