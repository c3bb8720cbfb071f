package memory

import (
	"context"
	"sync"
	"time"

	"github.com/uvote/uvote-backend/pkg/kv"
)

// Store is an in-process kv.Store. Expiry is checked lazily on read; there
// is no background janitor.
type Store struct {
	mu    sync.RWMutex
	items map[string]item
}

type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func NewStore() *Store {
	return &Store{items: make(map[string]item)}
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return nil, kv.ErrNotFound
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]item)
	return nil
}
