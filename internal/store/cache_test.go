package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// An unreachable Redis address must degrade to the in-process store, not fail.
func TestCacheFallsBackToMemory(t *testing.T) {
	cache := NewCache("127.0.0.1:1", zap.NewNop().Sugar(), nil)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Ping(ctx))

	type snapshot struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}

	key := MarketKey(7)
	require.NoError(t, cache.Set(ctx, key, snapshot{ID: 7, Title: "cup"}, time.Minute))

	var got snapshot
	require.NoError(t, cache.Get(ctx, key, &got))
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "cup", got.Title)

	cache.Invalidate(ctx, key)
	err := cache.Get(ctx, key, &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMarketKey(t *testing.T) {
	assert.Equal(t, "uv:market:42", MarketKey(42))
}
