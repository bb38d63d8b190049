// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package idp talks to the OpenID Connect provider on behalf of the gateway:
// discovery, PKCE, the authorization-code and refresh grants, userinfo and
// RP-initiated logout.
package idp

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=types.go Provider

// Tokens is the token set returned by the provider's token endpoint.
type Tokens struct {
	// AccessToken is the access token issued by the provider.
	AccessToken string

	// RefreshToken is empty when the provider did not issue or rotate one.
	RefreshToken string

	// IDToken is the raw, already verified ID token.
	IDToken string

	// TokenType is usually "Bearer".
	TokenType string

	// ExpiresAt is derived from expires_in. It is zero when the provider
	// omitted expires_in.
	ExpiresAt time.Time
}

// Usable reports whether the token set can back an active session: both an
// ID token and an access token are present and the access token has not
// already expired.
func (t *Tokens) Usable(now time.Time) bool {
	if t == nil || t.IDToken == "" || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || t.ExpiresAt.After(now)
}

// AuthorizationRequest carries the per-login values placed on the
// authorization URL.
type AuthorizationRequest struct {
	State         string
	CodeChallenge string
	Nonce         string
}

// ExchangeRequest carries the values needed to redeem an authorization code.
type ExchangeRequest struct {
	Code         string
	CodeVerifier string

	// Nonce, when set, must match the nonce claim of the returned ID token.
	Nonce string
}

// Provider is the relying party's view of an OpenID Connect provider.
type Provider interface {
	// AuthorizationURL builds the URL the browser is sent to for login.
	AuthorizationURL(req AuthorizationRequest) (string, error)

	// ExchangeCode redeems an authorization code and verifies the ID token.
	ExchangeCode(ctx context.Context, req ExchangeRequest) (*Tokens, error)

	// RefreshTokens runs the refresh_token grant.
	RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error)

	// EndSessionURL builds the RP-initiated logout URL. idTokenHint may be empty.
	EndSessionURL(idTokenHint string) (string, error)

	// UserInfo fetches the claims of the userinfo endpoint.
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)
}
