package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const trashKeyPrefix = "catalog:trash:"

// Trash keeps recently deleted products in Redis for a limited time.
type Trash struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTrash instantiates the trash helper. A non-positive ttl defaults to 24h.
func NewTrash(client *redis.Client, ttl time.Duration) *Trash {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Trash{client: client, ttl: ttl}
}

func trashKey(id int64) string {
	return trashKeyPrefix + strconv.FormatInt(id, 10)
}

// Stash stores the product under its id, replacing any earlier entry.
func (t *Trash) Stash(ctx context.Context, product Product) error {
	if t == nil || t.client == nil {
		return nil
	}
	raw, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, trashKey(product.ID), raw, t.ttl).Err()
}

// Pop removes and returns the product stashed under id.
func (t *Trash) Pop(ctx context.Context, id int64) (Product, error) {
	if t == nil || t.client == nil {
		return Product{}, fmt.Errorf("%w: id %d", ErrNotInTrash, id)
	}
	raw, err := t.client.GetDel(ctx, trashKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Product{}, fmt.Errorf("%w: id %d", ErrNotInTrash, id)
	}
	if err != nil {
		return Product{}, err
	}
	var product Product
	if err := json.Unmarshal(raw, &product); err != nil {
		return Product{}, fmt.Errorf("catalog: decode trash entry %d: %w", id, err)
	}
	return product, nil
}
