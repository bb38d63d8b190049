// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"crypto/rand"

	"golang.org/x/oauth2"
)

// CodeChallengeMethod is the only PKCE method the gateway uses.
const CodeChallengeMethod = "S256"

// GenerateVerifier returns a fresh PKCE code verifier (RFC 7636, 32 random octets).
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputeChallenge derives the S256 code challenge for verifier.
func ComputeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// RandomString returns a fresh 128-bit random value in base32. It is used
// for session ids, state and nonce values.
func RandomString() string {
	return rand.Text()
}
