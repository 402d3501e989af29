package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheRepository wraps the Redis client for the visibility-scope cache.
// Entries are JSON blobs keyed by user id; mutation paths invalidate them.
type CacheRepository struct {
	client *redis.Client
}

// NewCacheRepository creates a new instance of CacheRepository.
func NewCacheRepository(client *redis.Client) *CacheRepository {
	return &CacheRepository{client: client}
}

func scopeKey(userID string) string {
	return "scope:" + userID
}

// GetScope returns the cached module-id set for a user, or (nil, false) on a
// miss.
func (r *CacheRepository) GetScope(ctx context.Context, userID string) ([]string, bool, error) {
	data, err := r.client.Get(ctx, scopeKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get scope cache: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, fmt.Errorf("decode scope cache: %w", err)
	}
	return ids, true, nil
}

// SetScope stores a user's module-id set with the given TTL.
func (r *CacheRepository) SetScope(ctx context.Context, userID string, moduleIDs []string, ttl time.Duration) error {
	data, err := json.Marshal(moduleIDs)
	if err != nil {
		return fmt.Errorf("encode scope cache: %w", err)
	}
	if err := r.client.Set(ctx, scopeKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("set scope cache: %w", err)
	}
	return nil
}

// InvalidateScope drops one user's cached scope.
func (r *CacheRepository) InvalidateScope(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, scopeKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate scope cache: %w", err)
	}
	return nil
}

// InvalidateScopes drops cached scopes for many users at once, used after
// roster or role mutations that touch several people.
func (r *CacheRepository) InvalidateScopes(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = scopeKey(id)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate scope caches: %w", err)
	}
	return nil
}
