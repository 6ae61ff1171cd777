package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrashStashAndPop(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	trash := NewTrash(client, time.Minute)
	product := Product{ID: 3, ExternalID: int64Ptr(30), Title: "Tee", Vendor: optionalString("Acme")}
	require.NoError(t, trash.Stash(ctx, product))
	assert.Equal(t, time.Minute, mr.TTL("catalog:trash:3"))

	got, err := trash.Pop(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, product, got)

	_, err = trash.Pop(ctx, 3)
	assert.ErrorIs(t, err, ErrNotInTrash)
}

func TestTrashEntriesExpire(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	trash := NewTrash(client, 0)
	require.NoError(t, trash.Stash(ctx, Product{ID: 1, Title: "Mug"}))
	assert.Equal(t, 24*time.Hour, mr.TTL("catalog:trash:1"))

	mr.FastForward(25 * time.Hour)
	_, err := trash.Pop(ctx, 1)
	assert.ErrorIs(t, err, ErrNotInTrash)
}

func TestNilTrash(t *testing.T) {
	var trash *Trash
	assert.NoError(t, trash.Stash(context.Background(), Product{ID: 1}))
	_, err := trash.Pop(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotInTrash)
}
