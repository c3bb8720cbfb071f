package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvote/uvote-backend/pkg/kv"
)

func TestStoreSetGetDel(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// Returned slices are copies; mutating them must not corrupt the store.
	got[0] = 'x'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), again)

	require.NoError(t, s.Del(ctx, "k", "absent"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestStoreTTL(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	require.NoError(t, s.Set(ctx, "forever", []byte("v"), 0))

	_, err := s.Get(ctx, "short")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = s.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestStoreClose(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Close())
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
