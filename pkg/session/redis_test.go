// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStoreWithClient(client, "test:session:"), mr
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	rec, err := NewPending("sid-1", time.Now().Add(time.Minute), Pending{CodeVerifier: "v", State: "st"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, rec))

	assert.True(t, mr.Exists("test:session:sid-1"))

	got, err := s.Get(ctx, "sid-1")
	require.NoError(t, err)
	p, ok := got.Pending()
	require.True(t, ok)
	assert.Equal(t, "v", p.CodeVerifier)
	assert.Equal(t, "st", p.State)
	assert.Equal(t, rec.ExpiresAt.UnixMilli(), got.ExpiresAt.UnixMilli())

	require.NoError(t, s.Delete(ctx, "sid-1"))
	assert.False(t, mr.Exists("test:session:sid-1"))

	_, err = s.Get(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete(ctx, "sid-1"), "delete is idempotent")
}

func TestRedisStore_ExpiresAtAbsoluteInstant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	expiresAt := time.Now().Add(30 * time.Minute)
	rec, err := NewActive("sid", expiresAt, Active{IDToken: "i", AccessToken: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, rec))

	ttl := mr.TTL("test:session:sid")
	assert.InDelta(t, (30 * time.Minute).Seconds(), ttl.Seconds(), 5)

	mr.FastForward(31 * time.Minute)
	_, err = s.Get(ctx, "sid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ReplaceMovesExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	pending, err := NewPending("sid", time.Now().Add(time.Minute), Pending{CodeVerifier: "v"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, pending))
	before := mr.TTL("test:session:sid")

	active, err := NewActive("sid", time.Now().Add(24*time.Hour), Active{IDToken: "i", AccessToken: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, active))
	after := mr.TTL("test:session:sid")

	assert.Greater(t, after, before)

	got, err := s.Get(ctx, "sid")
	require.NoError(t, err)
	_, ok := got.Active()
	assert.True(t, ok)
	_, ok = got.Pending()
	assert.False(t, ok)
}

func TestRedisStore_CorruptRecordTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"both payloads", `{"sessionExpiresAt":9999999999999,"codeVerifier":"v","idToken":"i"}`},
		{"neither payload", `{"sessionExpiresAt":9999999999999}`},
		{"half active", `{"sessionExpiresAt":9999999999999,"accessToken":"a"}`},
		{"not json", `definitely not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			s, mr := newTestRedisStore(t)
			require.NoError(t, mr.Set("test:session:bad", tt.doc))

			rec, err := s.Get(ctx, "bad")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Nil(t, rec)
			assert.False(t, mr.Exists("test:session:bad"), "corrupt record is deleted")
		})
	}
}

func TestRedisStore_RejectsExpiredRecord(t *testing.T) {
	t.Parallel()

	s, mr := newTestRedisStore(t)
	rec, err := NewPending("sid", time.Now().Add(-time.Second), Pending{CodeVerifier: "v"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Set(context.Background(), rec), ErrExpired)
	assert.False(t, mr.Exists("test:session:sid"))
}

func TestRedisStore_BackendErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.Get(ctx, "sid")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "transport failures are not absence")

	rec, err := NewPending("sid", time.Now().Add(time.Minute), Pending{CodeVerifier: "v"})
	require.NoError(t, err)
	assert.Error(t, s.Set(ctx, rec))
	assert.Error(t, s.Delete(ctx, "sid"))
	assert.Error(t, s.Health(ctx))
}

func TestRedisStore_DefaultPrefix(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "")
	t.Cleanup(func() { _ = s.Close() })

	rec, err := NewPending("sid", time.Now().Add(time.Minute), Pending{CodeVerifier: "v"})
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), rec))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"sid"))
	require.NoError(t, s.Health(context.Background()))
}

func TestNewRedisStore(t *testing.T) {
	t.Parallel()

	t.Run("url", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		s, err := NewRedisStore(context.Background(), RedisConfig{URL: "redis://" + mr.Addr() + "/0"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		assert.NoError(t, s.Health(context.Background()))
	})

	t.Run("invalid configurations", func(t *testing.T) {
		t.Parallel()

		cfgs := []RedisConfig{
			{},
			{URL: "redis://localhost:6379", Sentinel: &SentinelConfig{MasterName: "m", SentinelAddrs: []string{"x:1"}}},
			{Sentinel: &SentinelConfig{SentinelAddrs: []string{"x:1"}}},
			{Sentinel: &SentinelConfig{MasterName: "m"}},
			{URL: "://bad"},
		}
		for _, cfg := range cfgs {
			_, err := NewRedisStore(context.Background(), cfg)
			assert.Error(t, err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewRedisStore(context.Background(), RedisConfig{URL: "redis://" + addr, DialTimeout: 200 * time.Millisecond})
		assert.ErrorContains(t, err, "failed to connect to redis")
	})
}

func TestNewStore(t *testing.T) {
	t.Parallel()

	b, err := NewStore(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, b)
	require.NoError(t, b.Close())

	_, err = NewStore(context.Background(), Config{Type: TypeRedis})
	assert.Error(t, err)

	_, err = NewStore(context.Background(), Config{Type: "etcd"})
	assert.ErrorContains(t, err, "unknown storage type")

	mr := miniredis.RunT(t)
	b, err = NewStore(context.Background(), Config{Type: TypeRedis, Redis: &RedisConfig{URL: "redis://" + mr.Addr()}})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, b)
	require.NoError(t, b.Close())
}
