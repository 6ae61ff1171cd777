package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/techmist/catalog-sync/internal/catalog"
	jobmetrics "github.com/techmist/catalog-sync/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// FeedSyncer runs one fetch-and-reconcile pass.
type FeedSyncer interface {
	FetchAndStore(ctx context.Context, override string) (int, error)
}

// CatalogSyncJob handles TaskCatalogSync.
type CatalogSyncJob struct {
	Syncer  FeedSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCatalogSyncJob wires dependencies for the sync handler.
func NewCatalogSyncJob(syncer FeedSyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogSyncJob {
	return &CatalogSyncJob{Syncer: syncer, Logger: logger, Metrics: metrics}
}

// Handle processes catalog sync tasks. Malformed feeds are not retried.
func (j *CatalogSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Syncer == nil {
		return errors.New("catalog sync: handler not configured")
	}
	var payload CatalogSyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("catalog sync: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskCatalogSync)
	logger := j.logger().With(slog.String("task", TaskCatalogSync), slog.String("url_override", payload.URL))
	logger.Info("starting catalog sync")

	count, err := j.Syncer.FetchAndStore(ctx, payload.URL)
	if err != nil {
		logger.Error("catalog sync failed", slog.Any("error", err))
		var decodeErr *catalog.DecodeError
		if errors.As(err, &decodeErr) {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return tracker.End(err)
	}
	metrics.AddItems(TaskCatalogSync, count)
	logger.Info("completed catalog sync", slog.Int("products", count))
	return tracker.End(nil)
}

func (j *CatalogSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
