// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Payload is the variant part of a Record: exactly one of Pending or Active.
type Payload interface {
	isPayload()
}

// Pending is the payload of a login that has been redirected to the identity
// provider and not yet come back through the callback.
type Pending struct {
	CodeVerifier string
	State        string
	Nonce        string
	// RedirectTo is where the callback sends the browser, when the login
	// request named an allowed target.
	RedirectTo string
}

func (Pending) isPayload() {}

// Active is the payload of an authenticated session.
type Active struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
}

func (Active) isPayload() {}

// Record is a session as stored under its id. Records are built with
// NewPending or NewActive and never hold both payloads.
type Record struct {
	ID        string
	ExpiresAt time.Time

	payload Payload
}

// NewPending creates a record for a login in flight.
func NewPending(id string, expiresAt time.Time, p Pending) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidRecord)
	}
	if p.CodeVerifier == "" {
		return nil, fmt.Errorf("%w: pending session requires a code verifier", ErrInvalidRecord)
	}
	return &Record{ID: id, ExpiresAt: expiresAt, payload: p}, nil
}

// NewActive creates a record for an authenticated session.
func NewActive(id string, expiresAt time.Time, a Active) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidRecord)
	}
	if a.IDToken == "" || a.AccessToken == "" {
		return nil, fmt.Errorf("%w: active session requires both id token and access token", ErrInvalidRecord)
	}
	return &Record{ID: id, ExpiresAt: expiresAt, payload: a}, nil
}

// Payload returns the record's payload.
func (r *Record) Payload() Payload {
	return r.payload
}

// Pending returns the pending payload, if that is what the record holds.
func (r *Record) Pending() (Pending, bool) {
	p, ok := r.payload.(Pending)
	return p, ok
}

// Active returns the active payload, if that is what the record holds.
func (r *Record) Active() (Active, bool) {
	a, ok := r.payload.(Active)
	return a, ok
}

// Expired reports whether the record's expiry instant has been reached, at
// millisecond resolution. This matches the stores, which drop a record at
// its expiry instant.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt.UnixMilli() <= now.UnixMilli()
}

// wireRecord is the JSON document kept in the store.
type wireRecord struct {
	SessionExpiresAt int64  `json:"sessionExpiresAt"`
	CodeVerifier     string `json:"codeVerifier,omitempty"`
	State            string `json:"state,omitempty"`
	Nonce            string `json:"nonce,omitempty"`
	RedirectTo       string `json:"redirectTo,omitempty"`
	IDToken          string `json:"idToken,omitempty"`
	AccessToken      string `json:"accessToken,omitempty"`
	RefreshToken     string `json:"refreshToken,omitempty"`
}

// Marshal encodes r as the stored JSON document.
func Marshal(r *Record) ([]byte, error) {
	w := wireRecord{SessionExpiresAt: r.ExpiresAt.UnixMilli()}
	switch p := r.payload.(type) {
	case Pending:
		w.CodeVerifier = p.CodeVerifier
		w.State = p.State
		w.Nonce = p.Nonce
		w.RedirectTo = p.RedirectTo
	case Active:
		w.IDToken = p.IDToken
		w.AccessToken = p.AccessToken
		w.RefreshToken = p.RefreshToken
	default:
		return nil, fmt.Errorf("%w: record has no payload", ErrInvalidRecord)
	}
	return json.Marshal(w)
}

// Unmarshal decodes a stored JSON document. Documents that do not hold
// exactly one well-formed payload fail with ErrCorrupt.
func Unmarshal(id string, data []byte) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	hasPending := w.CodeVerifier != "" || w.State != "" || w.Nonce != "" || w.RedirectTo != ""
	hasActive := w.IDToken != "" || w.AccessToken != "" || w.RefreshToken != ""
	expiresAt := time.UnixMilli(w.SessionExpiresAt)

	var (
		rec *Record
		err error
	)
	switch {
	case hasPending && hasActive:
		return nil, fmt.Errorf("%w: both pending and active fields present", ErrCorrupt)
	case hasPending:
		rec, err = NewPending(id, expiresAt, Pending{
			CodeVerifier: w.CodeVerifier,
			State:        w.State,
			Nonce:        w.Nonce,
			RedirectTo:   w.RedirectTo,
		})
	case hasActive:
		rec, err = NewActive(id, expiresAt, Active{
			IDToken:      w.IDToken,
			AccessToken:  w.AccessToken,
			RefreshToken: w.RefreshToken,
		})
	default:
		return nil, fmt.Errorf("%w: no payload", ErrCorrupt)
	}
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	return rec, nil
}
