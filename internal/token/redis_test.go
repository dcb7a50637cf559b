// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey/latchkey/internal/token"
	"github.com/latchkey/latchkey/pkg/errutil"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func TestRedisRevocations_RevokeAndCheck(t *testing.T) {
	client, server := newTestRedis(t)
	store := token.NewRedisRevocations(client, "")
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "jti-1", 2*time.Minute))
	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	remaining := server.TTL(token.DefaultRedisPrefix + ":jti-1")
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, 2*time.Minute)

	server.FastForward(3 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "entries expire with the token")
}

func TestRedisRevocations_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	store := token.NewRedisRevocations(client, "custom")
	ctx := context.Background()

	errutil.AssertErrorCode(t, store.Revoke(ctx, " ", time.Minute), "TOKEN_INVALID_REQUEST")
	errutil.AssertErrorCode(t, store.Revoke(ctx, "jti", 0), "TOKEN_INVALID_REQUEST")

	revoked, err := store.IsRevoked(ctx, "")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRevocations_ServerDown(t *testing.T) {
	client, server := newTestRedis(t)
	store := token.NewRedisRevocations(client, "")
	server.Close()

	_, err := store.IsRevoked(context.Background(), "jti")
	errutil.AssertErrorCode(t, err, "REDIS_EXISTS_FAILED")
	err = store.Revoke(context.Background(), "jti", time.Minute)
	errutil.AssertErrorCode(t, err, "REDIS_SET_FAILED")
}

func TestIssuer_WithRedisRevocations(t *testing.T) {
	client, server := newTestRedis(t)
	iss, err := token.NewIssuer(token.Config{
		SigningKey:  signingKey,
		Revocations: token.NewRedisRevocations(client, "latchkey:test"),
	})
	require.NoError(t, err)
	ctx := context.Background()

	tok, err := iss.IssueToken(ctx, fullRequest())
	require.NoError(t, err)
	require.NoError(t, iss.RevokeToken(ctx, tok.Value))

	assert.True(t, server.Exists("latchkey:test:"+tok.ID))
	_, err = iss.CurrentPrincipal(ctx, tok.Value)
	errutil.AssertErrorCode(t, err, "TOKEN_REVOKED")
}

func TestMemoryRevocations(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	store := token.NewMemoryRevocations(c.Now)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "a", time.Minute))
	require.NoError(t, store.Revoke(ctx, "b", time.Hour))
	assert.Equal(t, 2, store.Len())

	revoked, err := store.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	c.Advance(time.Minute)
	revoked, err = store.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, 1, store.Len())
}
