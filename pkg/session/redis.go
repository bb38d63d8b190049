// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/stacklok/rpgate/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultKeyPrefix namespaces session keys.
	DefaultKeyPrefix = "rpgate:session:"
)

var storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rpgate_session_store_operation_duration_ms",
	Help:    "Latency of session store operations in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
}, []string{"backend", "operation"})

func observe(backend, operation string, start time.Time) {
	storeOperationDuration.WithLabelValues(backend, operation).
		Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// RedisConfig configures a Redis-backed store. Exactly one of URL or
// Sentinel must be set.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL for a single node.
	URL string

	// Sentinel selects a Sentinel-managed deployment.
	Sentinel *SentinelConfig

	// Username and Password authenticate against Redis ACLs. They override
	// credentials embedded in URL.
	Username string
	Password string

	// KeyPrefix is prepended to every session id. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string
	SentinelAddrs []string
	DB            int
}

// RedisStore keeps records as JSON documents in Redis, expiring each key at
// the record's absolute expiry instant.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
	logger    *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
		logger:    logger.For("session-store"),
	}
}

func newRedisClient(cfg RedisConfig) (redis.UniversalClient, error) {
	dial, read, write := cfg.DialTimeout, cfg.ReadTimeout, cfg.WriteTimeout
	if dial == 0 {
		dial = DefaultDialTimeout
	}
	if read == 0 {
		read = DefaultReadTimeout
	}
	if write == 0 {
		write = DefaultWriteTimeout
	}

	switch {
	case cfg.URL != "" && cfg.Sentinel != nil:
		return nil, errors.New("url and sentinel are mutually exclusive")
	case cfg.URL != "":
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		if cfg.Username != "" {
			opts.Username = cfg.Username
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		opts.DialTimeout, opts.ReadTimeout, opts.WriteTimeout = dial, read, write
		return redis.NewClient(opts), nil
	case cfg.Sentinel != nil:
		if cfg.Sentinel.MasterName == "" {
			return nil, errors.New("sentinel master name is required")
		}
		if len(cfg.Sentinel.SentinelAddrs) == 0 {
			return nil, errors.New("at least one sentinel address is required")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.Sentinel.MasterName,
			SentinelAddrs: cfg.Sentinel.SentinelAddrs,
			DB:            cfg.Sentinel.DB,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DialTimeout:   dial,
			ReadTimeout:   read,
			WriteTimeout:  write,
		}), nil
	default:
		return nil, errors.New("either url or sentinel must be configured")
	}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// Get implements Store. Undecodable documents are removed and reported as
// ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	defer observe("redis", "get", time.Now())

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	rec, err := Unmarshal(id, data)
	if err != nil {
		s.logger.Warn("discarding corrupt session record", "session_id", Redact(id), "error", err)
		if delErr := s.client.Del(ctx, s.key(id)).Err(); delErr != nil {
			s.logger.Warn("failed to delete corrupt session record", "session_id", Redact(id), "error", delErr)
		}
		return nil, ErrNotFound
	}
	return rec, nil
}

// Set implements Store using SET ... PXAT so that Redis expires the key at
// the record's own expiry instant.
func (s *RedisStore) Set(ctx context.Context, rec *Record) error {
	defer observe("redis", "set", time.Now())

	if !rec.ExpiresAt.After(s.now()) {
		return ErrExpired
	}
	data, err := Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Do(ctx, "SET", s.key(rec.ID), data, "PXAT", rec.ExpiresAt.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	defer observe("redis", "delete", time.Now())

	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Health pings Redis.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
