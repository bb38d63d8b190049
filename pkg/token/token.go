// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token signs, verifies and decodes compact JWS tokens.
//
// The codec is used in two directions: to issue client assertions towards the
// identity provider, and to read the issuer and expiry of id tokens the
// provider hands back. Verification failures are reported as distinct
// pkg/errors types (malformed, signature, not yet valid, expired) so callers
// can tell forgery from clock-window problems.
package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/rpgate/pkg/errors"
)

// Algorithm is a JWS "alg" value.
type Algorithm string

// Supported algorithms.
const (
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
	RS256 Algorithm = "RS256"
	RS384 Algorithm = "RS384"
	RS512 Algorithm = "RS512"
	ES256 Algorithm = "ES256"
	ES384 Algorithm = "ES384"
	ES512 Algorithm = "ES512"
)

const (
	// DefaultLifetime is added to iat to produce exp when the caller sets none.
	DefaultLifetime = time.Hour

	// DefaultClockSkew is subtracted from iat to produce nbf when the caller sets none.
	DefaultClockSkew = 10 * time.Second

	typeJWT = "JWT"
)

// Registered claim names.
const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimExpiresAt = "exp"
	ClaimNotBefore = "nbf"
	ClaimIssuedAt  = "iat"
	ClaimJWTID     = "jti"
)

var signingMethods = map[Algorithm]jwt.SigningMethod{
	HS256: jwt.SigningMethodHS256,
	HS384: jwt.SigningMethodHS384,
	HS512: jwt.SigningMethodHS512,
	RS256: jwt.SigningMethodRS256,
	RS384: jwt.SigningMethodRS384,
	RS512: jwt.SigningMethodRS512,
	ES256: jwt.SigningMethodES256,
	ES384: jwt.SigningMethodES384,
	ES512: jwt.SigningMethodES512,
}

// Algorithms returns every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{HS256, HS384, HS512, RS256, RS384, RS512, ES256, ES384, ES512}
}

// Supported reports whether alg is one of the supported algorithms.
func Supported(alg Algorithm) bool {
	_, ok := signingMethods[alg]
	return ok
}

func signingMethod(alg Algorithm) (jwt.SigningMethod, error) {
	m, ok := signingMethods[alg]
	if !ok {
		return nil, errors.NewUnsupportedAlgorithmError(fmt.Sprintf("algorithm %q is not supported", alg), nil)
	}
	return m, nil
}

// Header is the protected JOSE header.
type Header struct {
	Type      string    `json:"typ"`
	Algorithm Algorithm `json:"alg"`
	KeyID     string    `json:"kid,omitempty"`
}

// Claims is a token payload. Registered claims are read through the
// accessor methods; anything else is carried as-is.
type Claims map[string]any

// Issuer returns the iss claim.
func (c Claims) Issuer() string {
	s, _ := c[ClaimIssuer].(string)
	return s
}

// Subject returns the sub claim.
func (c Claims) Subject() string {
	s, _ := c[ClaimSubject].(string)
	return s
}

// String returns a string-valued custom claim.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// ExpiresAt returns the exp claim, if present and numeric.
func (c Claims) ExpiresAt() (time.Time, bool) {
	return c.numericDate(ClaimExpiresAt)
}

// NotBefore returns the nbf claim, if present and numeric.
func (c Claims) NotBefore() (time.Time, bool) {
	return c.numericDate(ClaimNotBefore)
}

// IssuedAt returns the iat claim, if present and numeric.
func (c Claims) IssuedAt() (time.Time, bool) {
	return c.numericDate(ClaimIssuedAt)
}

func (c Claims) numericDate(name string) (time.Time, bool) {
	secs, ok := c.seconds(name)
	if !ok {
		return time.Time{}, false
	}
	whole := int64(secs)
	frac := secs - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second))), true
}

func (c Claims) seconds(name string) (float64, bool) {
	switch v := c[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func (c Claims) clone() Claims {
	out := make(Claims, len(c)+3)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Token is a decoded token. It is never mutated after creation.
type Token struct {
	Raw       string
	Header    Header
	Claims    Claims
	Signature []byte
}

// Strict rejects non-zero padding bits so each decoded value has one encoding.
var b64 = base64.RawURLEncoding.Strict()

func encodeSegment(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return b64.EncodeToString(data), nil
}

func decodeSegment(seg string, v any) error {
	data, err := b64.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// split parses the two JSON segments of raw without checking the signature.
func split(raw string) (*Token, []string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, nil, errors.NewMalformedTokenError(
			fmt.Sprintf("token has %d segments, expected 3", len(parts)), nil)
	}

	tok := &Token{Raw: raw}
	if err := decodeSegment(parts[0], &tok.Header); err != nil {
		return nil, nil, errors.NewMalformedTokenError("token header is not valid base64url JSON", err)
	}
	if err := decodeSegment(parts[1], &tok.Claims); err != nil {
		return nil, nil, errors.NewMalformedTokenError("token payload is not valid base64url JSON", err)
	}
	if tok.Claims == nil {
		return nil, nil, errors.NewMalformedTokenError("token payload is not a JSON object", nil)
	}
	return tok, parts, nil
}
