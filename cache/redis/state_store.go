package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/autopost-hq/tokenvault/cache"
)

// StateStore implements cache.StateStore using Redis, so the connect flow
// survives a redirect landing on a different replica.
type StateStore struct {
	client *redis.Client
	prefix string
}

// NewStateStore creates a new StateStore instance.
func NewStateStore(client *redis.Client, prefix string) *StateStore {
	return &StateStore{
		client: client,
		prefix: prefix,
	}
}

func (s *StateStore) redisKey(state string) string {
	return fmt.Sprintf("%s:oauth_state:%s", s.prefix, state)
}

// Issue stores the state nonce for the given user id.
func (s *StateStore) Issue(ctx context.Context, state, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.redisKey(state), userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store oauth state in Redis: %w", err)
	}
	return nil
}

// Verify consumes the nonce and returns the user id it was issued for.
// GETDEL keeps consumption atomic across concurrent callbacks.
func (s *StateStore) Verify(ctx context.Context, state string) (string, bool) {
	userID, err := s.client.GetDel(ctx, s.redisKey(state)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Msg("Error verifying oauth state in Redis")
		}
		return "", false
	}
	return userID, true
}

var _ cache.StateStore = (*StateStore)(nil)
