package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStateStore implements StateStore using ttlcache. Suitable for a
// single-process deployment; use the Redis store when running replicas.
type MemoryStateStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemoryStateStore creates a new in-memory state store with automatic
// expiry of stale nonces.
func NewMemoryStateStore() *MemoryStateStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &MemoryStateStore{cache: cache}
}

// Issue stores the state nonce for the given user id.
func (s *MemoryStateStore) Issue(_ context.Context, state, userID string, ttl time.Duration) error {
	s.cache.Set(state, userID, ttl)
	return nil
}

// Verify consumes the nonce and returns the user id it was issued for.
func (s *MemoryStateStore) Verify(_ context.Context, state string) (string, bool) {
	item := s.cache.Get(state)
	if item == nil {
		return "", false
	}
	s.cache.Delete(state)
	return item.Value(), true
}

// Close stops the background expiry loop.
func (s *MemoryStateStore) Close() {
	s.cache.Stop()
}

var _ StateStore = (*MemoryStateStore)(nil)
