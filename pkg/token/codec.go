// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/stacklok/rpgate/pkg/errors"
)

type options struct {
	now      func() time.Time
	lifetime time.Duration
	skew     time.Duration
	keyID    string
}

// Option configures Sign and Verify.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLifetime overrides DefaultLifetime when Sign fills in exp.
func WithLifetime(d time.Duration) Option {
	return func(o *options) {
		o.lifetime = d
	}
}

// WithKeyID sets the kid header on signed tokens.
func WithKeyID(kid string) Option {
	return func(o *options) {
		o.keyID = kid
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		now:      time.Now,
		lifetime: DefaultLifetime,
		skew:     DefaultClockSkew,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sign serializes claims as a compact JWS signed with key under alg.
//
// iat, exp and nbf are filled in from the clock unless already present.
// The input claims are not modified.
func Sign(claims Claims, key *Key, alg Algorithm, opts ...Option) (string, error) {
	method, err := signingMethod(alg)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", errors.NewInvalidKeyError("no signing key", nil)
	}
	sk, err := key.signingKey(alg)
	if err != nil {
		return "", err
	}

	o := newOptions(opts)
	now := o.now()

	payload := claims.clone()
	if _, ok := payload[ClaimIssuedAt]; !ok {
		payload[ClaimIssuedAt] = now.Unix()
	}
	if _, ok := payload[ClaimExpiresAt]; !ok {
		payload[ClaimExpiresAt] = now.Add(o.lifetime).Unix()
	}
	if _, ok := payload[ClaimNotBefore]; !ok {
		payload[ClaimNotBefore] = now.Add(-o.skew).Unix()
	}

	kid := o.keyID
	if kid == "" {
		kid = key.KeyID
	}
	header, err := encodeSegment(Header{Type: typeJWT, Algorithm: alg, KeyID: kid})
	if err != nil {
		return "", fmt.Errorf("failed to encode header: %w", err)
	}
	body, err := encodeSegment(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}

	signingInput := header + "." + body
	sig, err := method.Sign(signingInput, sk)
	if err != nil {
		return "", errors.NewInvalidKeyError("signing failed", err)
	}
	return signingInput + "." + b64.EncodeToString(sig), nil
}

// Verify parses raw and checks it against key and alg.
//
// Checks run in a fixed order and stop at the first failure: segment
// structure (MalformedToken), header alg equal to alg (SignatureInvalid),
// nbf not in the future (NotYetValid), exp not in the past (Expired),
// and finally the signature itself (SignatureInvalid).
func Verify(raw string, key *Key, alg Algorithm, opts ...Option) (*Token, error) {
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}

	tok, parts, err := split(raw)
	if err != nil {
		return nil, err
	}

	if tok.Header.Algorithm != alg {
		return nil, errors.NewSignatureInvalidError(
			fmt.Sprintf("token algorithm %q does not match expected %q", tok.Header.Algorithm, alg), nil)
	}

	o := newOptions(opts)
	now := float64(o.now().Unix())

	if nbf, ok := tok.Claims.seconds(ClaimNotBefore); ok && nbf > now {
		return nil, errors.NewNotYetValidError("token is not valid yet", nil)
	}
	if exp, ok := tok.Claims.seconds(ClaimExpiresAt); ok && exp < now {
		return nil, errors.NewExpiredError("token has expired", nil)
	}

	if key == nil {
		return nil, errors.NewInvalidKeyError("no verification key", nil)
	}
	vk, err := key.verificationKey(alg)
	if err != nil {
		return nil, err
	}

	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, errors.NewSignatureInvalidError("signature is not valid base64url", err)
	}
	if err := method.Verify(parts[0]+"."+parts[1], sig, vk); err != nil {
		return nil, errors.NewSignatureInvalidError("signature verification failed", err)
	}

	tok.Signature = sig
	return tok, nil
}

// Decode parses raw without verifying anything.
//
// The result must not be used for authorization decisions; it exists to read
// hints such as iss and exp from tokens obtained directly from the provider.
func Decode(raw string) (*Token, error) {
	tok, parts, err := split(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if sig, err := b64.DecodeString(parts[2]); err == nil {
		tok.Signature = sig
	}
	return tok, nil
}
