// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package token

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultRedisPrefix namespaces revocation keys.
const DefaultRedisPrefix = "latchkey:revoked"

// RedisRevocations stores revoked token IDs in Redis with a TTL matching the
// token's remaining lifetime, so entries vanish when the token would expire.
type RedisRevocations struct {
	client redis.Cmdable
	prefix string
}

// NewRedisRevocations wraps client. A blank prefix uses DefaultRedisPrefix.
func NewRedisRevocations(client redis.Cmdable, prefix string) *RedisRevocations {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRevocations{client: client, prefix: prefix}
}

// Revoke marks tokenID revoked for ttl.
func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	key := r.key(tokenID)
	if key == "" {
		return oops.Code("TOKEN_INVALID_REQUEST").Errorf("token id is required")
	}
	if ttl <= 0 {
		return oops.Code("TOKEN_INVALID_REQUEST").With("ttl", ttl.String()).Errorf("ttl must be positive")
	}
	if err := r.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return oops.Code("REDIS_SET_FAILED").With("key", key).Wrap(err)
	}
	return nil
}

// IsRevoked reports whether tokenID is revoked.
func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	key := r.key(tokenID)
	if key == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, oops.Code("REDIS_EXISTS_FAILED").With("key", key).Wrap(err)
	}
	return n > 0, nil
}

func (r *RedisRevocations) key(tokenID string) string {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return ""
	}
	return r.prefix + ":" + tokenID
}

var _ Revocations = (*RedisRevocations)(nil)
