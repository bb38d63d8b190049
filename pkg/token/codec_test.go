// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/rpgate/pkg/errors"
)

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
)

func clock() Option {
	return WithClock(func() time.Time { return fixedNow })
}

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		rsaKey = k
	})
	return rsaKey
}

// keyFor returns a signing key suitable for alg.
func keyFor(t *testing.T, alg Algorithm) *Key {
	t.Helper()

	var material any
	switch alg {
	case HS256, HS384, HS512:
		material = []byte("s3cr3tK3y1-with-enough-entropy-for-tests")
	case RS256, RS384, RS512:
		material = testRSAKey(t)
	case ES256:
		material = mustECDSA(t, elliptic.P256())
	case ES384:
		material = mustECDSA(t, elliptic.P384())
	case ES512:
		material = mustECDSA(t, elliptic.P521())
	}

	key, err := NewKey(material)
	require.NoError(t, err)
	return key
}

func mustECDSA(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return k
}

func TestSignVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			t.Parallel()

			key := keyFor(t, alg)
			claims := Claims{
				"iss":    "https://idp.example.com",
				"sub":    "user-123",
				"aud":    []any{"rpgate"},
				"jti":    "abc",
				"groups": []any{"admins", "dev"},
				"nested": map[string]any{"k": "v"},
			}

			raw, err := Sign(claims, key, alg, clock())
			require.NoError(t, err)
			assert.Len(t, strings.Split(raw, "."), 3)
			assert.NotContains(t, raw, "=")

			tok, err := Verify(raw, key, alg, clock())
			require.NoError(t, err)

			assert.Equal(t, "JWT", tok.Header.Type)
			assert.Equal(t, alg, tok.Header.Algorithm)
			for k, v := range claims {
				assert.Equal(t, v, tok.Claims[k], "claim %s", k)
			}

			iat, ok := tok.Claims.IssuedAt()
			require.True(t, ok)
			assert.Equal(t, fixedNow.Unix(), iat.Unix())
			exp, ok := tok.Claims.ExpiresAt()
			require.True(t, ok)
			assert.Equal(t, fixedNow.Add(DefaultLifetime).Unix(), exp.Unix())
			nbf, ok := tok.Claims.NotBefore()
			require.True(t, ok)
			assert.Equal(t, fixedNow.Add(-DefaultClockSkew).Unix(), nbf.Unix())
		})
	}
}

func TestSign_DoesNotOverrideCallerTimes(t *testing.T) {
	t.Parallel()

	key := keyFor(t, HS256)
	exp := fixedNow.Add(5 * time.Minute).Unix()
	claims := Claims{"iss": "me", "exp": exp, "iat": int64(1), "nbf": int64(2)}

	raw, err := Sign(claims, key, HS256, clock())
	require.NoError(t, err)

	tok, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, float64(exp), tok.Claims["exp"])
	assert.Equal(t, float64(1), tok.Claims["iat"])
	assert.Equal(t, float64(2), tok.Claims["nbf"])

	_, ok := claims["jti"]
	assert.False(t, ok)
	assert.Len(t, claims, 4, "input claims must not be mutated")
}

func TestSign_Lifetime(t *testing.T) {
	t.Parallel()

	raw, err := Sign(Claims{"iss": "me"}, keyFor(t, HS256), HS256, clock(), WithLifetime(time.Minute), WithKeyID("kid-1"))
	require.NoError(t, err)

	tok, err := Decode(raw)
	require.NoError(t, err)
	exp, _ := tok.Claims.ExpiresAt()
	assert.Equal(t, fixedNow.Add(time.Minute).Unix(), exp.Unix())
	assert.Equal(t, "kid-1", tok.Header.KeyID)
}

func TestSign_Errors(t *testing.T) {
	t.Parallel()

	_, err := Sign(Claims{}, keyFor(t, HS256), Algorithm("none"))
	assert.True(t, errors.IsType(err, errors.ErrUnsupportedAlgorithm))

	_, err = Sign(Claims{}, keyFor(t, HS256), RS256)
	assert.True(t, errors.IsType(err, errors.ErrInvalidKey))

	_, err = Sign(Claims{}, keyFor(t, ES256), ES384)
	assert.True(t, errors.IsType(err, errors.ErrInvalidKey), "curve must match algorithm")

	pub, err := NewKey(&testRSAKey(t).PublicKey)
	require.NoError(t, err)
	_, err = Sign(Claims{}, pub, RS256)
	assert.True(t, errors.IsType(err, errors.ErrInvalidKey), "public key cannot sign")
}

func TestVerify_Tamper(t *testing.T) {
	t.Parallel()

	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			t.Parallel()

			key := keyFor(t, alg)
			raw, err := Sign(Claims{"iss": "me"}, key, alg, clock())
			require.NoError(t, err)

			parts := strings.Split(raw, ".")
			sig, err := b64.DecodeString(parts[2])
			require.NoError(t, err)

			for _, bit := range []int{0, 7, len(sig)*8 - 1} {
				flipped := append([]byte(nil), sig...)
				flipped[bit/8] ^= 1 << (bit % 8)
				tampered := parts[0] + "." + parts[1] + "." + b64.EncodeToString(flipped)

				_, err := Verify(tampered, key, alg, clock())
				assert.True(t, errors.IsType(err, errors.ErrSignatureInvalid), "bit %d: %v", bit, err)
			}
		})
	}
}

func TestVerify_SignatureTextTamper(t *testing.T) {
	t.Parallel()

	for _, alg := range Algorithms() {
		t.Run(string(alg), func(t *testing.T) {
			t.Parallel()

			key := keyFor(t, alg)
			raw, err := Sign(Claims{"iss": "me"}, key, alg, clock())
			require.NoError(t, err)

			parts := strings.Split(raw, ".")
			for i := range len(parts[2]) {
				for _, bit := range []byte{1, 2} {
					text := []byte(parts[2])
					text[i] ^= bit
					tampered := parts[0] + "." + parts[1] + "." + string(text)
					require.NotEqual(t, raw, tampered)

					_, err := Verify(tampered, key, alg, clock())
					assert.True(t, errors.IsType(err, errors.ErrSignatureInvalid),
						"char %d mask %d: %v", i, bit, err)
				}
			}
		})
	}
}

func TestVerify_NonCanonicalSignatureTail(t *testing.T) {
	t.Parallel()

	key := keyFor(t, HS256)
	raw, err := Sign(Claims{"iss": "me"}, key, HS256, clock())
	require.NoError(t, err)

	// A 32-byte HMAC leaves two unused bits in the final character.
	last := raw[len(raw)-1]
	idx := strings.IndexByte(alphabet, last)
	require.GreaterOrEqual(t, idx, 0)
	tampered := raw[:len(raw)-1] + string(alphabet[idx^1])

	_, err = Verify(tampered, key, HS256, clock())
	assert.True(t, errors.IsType(err, errors.ErrSignatureInvalid), "%v", err)
}

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

func TestVerify_PayloadTamper(t *testing.T) {
	t.Parallel()

	key := keyFor(t, HS256)
	raw, err := Sign(Claims{"sub": "alice"}, key, HS256, clock())
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	forged, err := encodeSegment(Claims{"sub": "mallory"})
	require.NoError(t, err)

	_, err = Verify(parts[0]+"."+forged+"."+parts[2], key, HS256, clock())
	assert.True(t, errors.IsType(err, errors.ErrSignatureInvalid))
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	key := keyFor(t, HS256)
	now := fixedNow.Unix()

	expired, err := Sign(Claims{"exp": now - 1}, key, HS256, clock())
	require.NoError(t, err)
	_, err = Verify(expired, key, HS256, clock())
	assert.True(t, errors.IsType(err, errors.ErrExpired), "got %v", err)

	valid, err := Sign(Claims{"exp": now + 1}, key, HS256, clock())
	require.NoError(t, err)
	_, err = Verify(valid, key, HS256, clock())
	assert.NoError(t, err)

	exact, err := Sign(Claims{"exp": now}, key, HS256, clock())
	require.NoError(t, err)
	_, err = Verify(exact, key, HS256, clock())
	assert.NoError(t, err, "exp equal to now is not in the past")
}

func TestVerify_Order(t *testing.T) {
	t.Parallel()

	key := keyFor(t, HS256)
	other := keyFor(t, ES256)
	now := fixedNow.Unix()
	wrong, err := NewHMACKey([]byte("a-different-shared-secret"))
	require.NoError(t, err)

	notYet, err := Sign(Claims{"nbf": now + 60}, key, HS256, clock())
	require.NoError(t, err)
	expired, err := Sign(Claims{"exp": now - 60}, key, HS256, clock())
	require.NoError(t, err)
	good, err := Sign(Claims{"iss": "me"}, key, HS256, clock())
	require.NoError(t, err)

	tests := []struct {
		name     string
		raw      string
		key      *Key
		alg      Algorithm
		wantType string
	}{
		{"unsupported algorithm", good, key, Algorithm("none"), errors.ErrUnsupportedAlgorithm},
		{"two segments", "a.b", key, HS256, errors.ErrMalformedToken},
		{"four segments", good + ".x", key, HS256, errors.ErrMalformedToken},
		{"garbage header", "!!!.e30.sig", key, HS256, errors.ErrMalformedToken},
		{"algorithm mismatch", good, key, HS384, errors.ErrSignatureInvalid},
		{"not yet valid", notYet, key, HS256, errors.ErrNotYetValid},
		{"expired before signature check", expired, wrong, HS256, errors.ErrExpired},
		{"wrong key", good, wrong, HS256, errors.ErrSignatureInvalid},
		{"wrong key family", good, other, HS256, errors.ErrInvalidKey},
		{"undecodable signature", strings.Join(strings.Split(good, ".")[:2], ".") + ".***", key, HS256, errors.ErrSignatureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Verify(tt.raw, tt.key, tt.alg, clock())
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errors.TypeOf(err), "got %v", err)
		})
	}
}

func TestVerify_WithPublicKey(t *testing.T) {
	t.Parallel()

	priv := mustECDSA(t, elliptic.P384())
	signer, err := NewKey(priv)
	require.NoError(t, err)
	verifier, err := NewKey(&priv.PublicKey)
	require.NoError(t, err)

	raw, err := Sign(Claims{"iss": "me"}, signer, ES384, clock())
	require.NoError(t, err)

	tok, err := Verify(raw, verifier, ES384, clock())
	require.NoError(t, err)
	assert.Equal(t, "me", tok.Claims.Issuer())
}

func TestDecode(t *testing.T) {
	t.Parallel()

	raw, err := Sign(Claims{"iss": "https://idp", "sub": "u1", "exp": int64(100)}, keyFor(t, HS256), HS256, clock())
	require.NoError(t, err)

	tok, err := Decode(raw)
	require.NoError(t, err, "decode ignores an expired exp")
	assert.Equal(t, "https://idp", tok.Claims.Issuer())
	assert.Equal(t, "u1", tok.Claims.Subject())
	exp, ok := tok.Claims.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, int64(100), exp.Unix())

	_, err = Decode("not-a-token")
	assert.True(t, errors.IsType(err, errors.ErrMalformedToken))

	_, err = Decode(b64.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." + b64.EncodeToString([]byte(`[1,2]`)) + ".sig")
	assert.True(t, errors.IsType(err, errors.ErrMalformedToken))
}

func TestClaims_Accessors(t *testing.T) {
	t.Parallel()

	c := Claims{"exp": 1.5, "nbf": "soon", "email": "a@b.c"}
	exp, ok := c.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, int64(1), exp.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(exp.Nanosecond()))

	_, ok = c.NotBefore()
	assert.False(t, ok)
	_, ok = c.IssuedAt()
	assert.False(t, ok)

	assert.Equal(t, "a@b.c", c.String("email"))
	assert.Empty(t, c.Issuer())
}
