// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeChallenge(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ComputeChallenge("dBjftJeZ4CVP-1mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestGenerateVerifier(t *testing.T) {
	t.Parallel()

	v := GenerateVerifier()
	assert.Len(t, v, 43)
	assert.NotEqual(t, v, GenerateVerifier())
}

func TestRandomString(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for range 100 {
		s := RandomString()
		assert.Len(t, s, 26)
		assert.Regexp(t, `^[A-Z2-7]+$`, s)
		assert.False(t, seen[s])
		seen[s] = true
	}
}
