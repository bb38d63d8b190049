// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session holds session records and the stores that keep them.
//
// A record's expiry is an absolute instant. Stores expire keys at that
// instant, but the instant itself is authoritative: callers treat a record
// as absent once Record.Expired reports true, whatever the store still holds.
package session

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

var (
	// ErrNotFound is returned by Get when no usable record exists under the id.
	// Corrupt documents are reported as not found.
	ErrNotFound = errors.New("session not found")

	// ErrCorrupt is returned by Unmarshal for documents that break the
	// one-payload rule or are not valid JSON.
	ErrCorrupt = errors.New("corrupt session record")

	// ErrInvalidRecord is returned when constructing a record with missing fields.
	ErrInvalidRecord = errors.New("invalid session record")

	// ErrExpired is returned by Set for a record whose expiry has already passed.
	ErrExpired = errors.New("session record already expired")
)

// Store persists session records.
type Store interface {
	// Get returns the record stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Set writes rec under rec.ID, replacing any previous record, and expires
	// it at rec.ExpiresAt.
	Set(ctx context.Context, rec *Record) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
}
