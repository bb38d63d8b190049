// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"errors"
	"fmt"
)

var (
	// ErrIDTokenInvalid is returned when the provider's ID token fails verification.
	ErrIDTokenInvalid = errors.New("id token invalid")

	// ErrNonceMissing is returned when a nonce was sent but the ID token has none.
	ErrNonceMissing = fmt.Errorf("%w: nonce claim missing", ErrIDTokenInvalid)

	// ErrNonceMismatch is returned when the ID token nonce differs from the one sent.
	ErrNonceMismatch = fmt.Errorf("%w: nonce mismatch", ErrIDTokenInvalid)

	// ErrInvalidTokenResponse is returned when a successful token response
	// cannot be used (undecodable or missing access_token).
	ErrInvalidTokenResponse = errors.New("invalid token response")

	// ErrUserInfoRejected is returned when the userinfo endpoint refuses the access token.
	ErrUserInfoRejected = errors.New("userinfo request rejected")
)

// TokenError is an OAuth 2.0 error response from the token endpoint
// (RFC 6749 section 5.2).
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint returned %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint returned %d %s", e.StatusCode, e.Code)
}

// IsRejection reports whether err means the provider answered and refused,
// as opposed to a transport or programming failure.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	var te *TokenError
	return errors.As(err, &te) ||
		errors.Is(err, ErrIDTokenInvalid) ||
		errors.Is(err, ErrInvalidTokenResponse) ||
		errors.Is(err, ErrUserInfoRejected)
}
