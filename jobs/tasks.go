package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogSync fetches the product feed and reconciles it into the store.
	TaskCatalogSync = "catalog:sync"
)

// CatalogSyncPayload carries an optional feed URL override.
type CatalogSyncPayload struct {
	URL string `json:"url,omitempty"`
}

// NewCatalogSyncTask builds a sync task. An empty url uses the configured feed.
func NewCatalogSyncTask(url string) (*asynq.Task, error) {
	body, err := json.Marshal(CatalogSyncPayload{URL: url})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogSync, body, asynq.Queue(QueueDefault)), nil
}
