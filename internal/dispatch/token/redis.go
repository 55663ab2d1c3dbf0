package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

const (
	defaultTokenPrefix = "dispatch:token:"
	defaultFixPrefix   = "dispatch:fix:"
)

// RedisTokenStore maps dispatch tokens to booking IDs. Expiry is delegated
// entirely to Redis via SET EX; a token that outlives its TTL simply stops
// resolving.
type RedisTokenStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisTokenStore constructs the store.
func NewRedisTokenStore(client redis.Cmdable, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = defaultTokenPrefix
	}
	return &RedisTokenStore{client: client, keyPrefix: prefix}
}

// Put writes token -> bookingID with the given TTL.
func (s *RedisTokenStore) Put(ctx context.Context, token string, bookingID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, s.keyPrefix+token, bookingID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get resolves a token. A missing or expired key reports ok=false without error.
func (s *RedisTokenStore) Get(ctx context.Context, token string) (uuid.UUID, bool, error) {
	value, err := s.client.Get(ctx, s.keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis get: %w", err)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse booking id: %w", err)
	}
	return id, true, nil
}

// RedisFixCache stores fallback location fixes as JSON under a short TTL so
// a stale socket-pushed fix can never be served indefinitely.
type RedisFixCache struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisFixCache constructs the cache.
func NewRedisFixCache(client redis.Cmdable, prefix string) *RedisFixCache {
	if prefix == "" {
		prefix = defaultFixPrefix
	}
	return &RedisFixCache{client: client, keyPrefix: prefix}
}

// Put stores the fix with the given TTL.
func (c *RedisFixCache) Put(ctx context.Context, key string, fix domain.LiveFix, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	payload, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get retrieves the fix if it has not expired.
func (c *RedisFixCache) Get(ctx context.Context, key string) (domain.LiveFix, bool, error) {
	payload, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LiveFix{}, false, nil
	}
	if err != nil {
		return domain.LiveFix{}, false, fmt.Errorf("redis get: %w", err)
	}
	var fix domain.LiveFix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return domain.LiveFix{}, false, fmt.Errorf("unmarshal fix: %w", err)
	}
	return fix, true, nil
}
