// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses Redis storage.
	TypeRedis Type = "redis"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type

	// Redis is required when Type is TypeRedis.
	Redis *RedisConfig
}

// Backend is a Store with a lifecycle, as built by NewStore.
type Backend interface {
	Store

	// Health reports whether the backend can serve requests.
	Health(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// NewStore builds the backend described by cfg.
func NewStore(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis storage selected without redis configuration")
		}
		return NewRedisStore(ctx, *cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// Redact shortens a session id for logging.
func Redact(id string) string {
	const keep = 8
	if len(id) <= keep {
		return id
	}
	return id[:keep] + "..."
}
