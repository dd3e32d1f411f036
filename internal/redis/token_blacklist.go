package redis

import (
	"context"
	"fmt"
	"time"

	"chatclient-go/internal/auth"

	"github.com/redis/go-redis/v9"
)

// redisTokenBlacklist is the redis-backed auth.TokenBlacklist used by the
// demo server when a redis address is configured. Entries expire on their
// own at the token's original expiry.
type redisTokenBlacklist struct {
	client *redis.Client
}

// NewRedisTokenBlacklist creates a redis-backed TokenBlacklist.
func NewRedisTokenBlacklist(client *redis.Client) auth.TokenBlacklist {
	return &redisTokenBlacklist{client: client}
}

const blacklistKeyPrefix = "bl:jti:"

// Add blacklists a JTI with a TTL matching the token's remaining lifetime.
func (r *redisTokenBlacklist) Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error {
	duration := time.Until(originalTokenExpTime)
	if duration <= 0 {
		// Already expired; JWT validation rejects it anyway.
		return nil
	}

	key := blacklistKeyPrefix + jti
	if err := r.client.Set(ctx, key, "revoked", duration).Err(); err != nil {
		return fmt.Errorf("add JTI %s to redis blacklist: %w", jti, err)
	}
	return nil
}

// IsBlacklisted checks whether a JTI is present in the blacklist.
func (r *redisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := blacklistKeyPrefix + jti
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check redis blacklist for JTI %s: %w", jti, err)
	}
	return val == "revoked", nil
}
