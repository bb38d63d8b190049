// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/rpgate/pkg/errors"
)

// Key is the single key material the codec signs or verifies with: an HMAC
// secret, an RSA key or an ECDSA key. Private keys verify with their public half.
type Key struct {
	material any

	// Algorithm is the alg advertised by an imported JWK, if any.
	Algorithm Algorithm
	// KeyID is the kid advertised by an imported JWK, if any.
	KeyID string
}

// NewKey wraps raw key material. Accepted types are []byte, *rsa.PrivateKey,
// *rsa.PublicKey, *ecdsa.PrivateKey and *ecdsa.PublicKey.
func NewKey(material any) (*Key, error) {
	switch m := material.(type) {
	case []byte:
		if len(m) == 0 {
			return nil, errors.NewInvalidKeyError("HMAC secret is empty", nil)
		}
	case *rsa.PrivateKey, *rsa.PublicKey, *ecdsa.PrivateKey, *ecdsa.PublicKey:
	default:
		return nil, errors.NewInvalidKeyError(fmt.Sprintf("unsupported key type %T", material), nil)
	}
	return &Key{material: material}, nil
}

// NewHMACKey wraps a shared secret.
func NewHMACKey(secret []byte) (*Key, error) {
	return NewKey(secret)
}

// ParseJWK imports a single JSON Web Key (kty oct, RSA or EC).
func ParseJWK(data []byte) (*Key, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, errors.NewInvalidKeyError("failed to parse JWK", err)
	}

	key, err := NewKey(jwk.Key)
	if err != nil {
		return nil, err
	}
	key.Algorithm = Algorithm(jwk.Algorithm)
	key.KeyID = jwk.KeyID
	return key, nil
}

// IsPrivate reports whether the key can sign with an asymmetric algorithm
// (HMAC secrets always can).
func (k *Key) IsPrivate() bool {
	switch k.material.(type) {
	case []byte, *rsa.PrivateKey, *ecdsa.PrivateKey:
		return true
	default:
		return false
	}
}

func (k *Key) signingKey(alg Algorithm) (any, error) {
	switch family(alg) {
	case "HS":
		if secret, ok := k.material.([]byte); ok {
			return secret, nil
		}
	case "RS":
		if priv, ok := k.material.(*rsa.PrivateKey); ok {
			return priv, nil
		}
	case "ES":
		if priv, ok := k.material.(*ecdsa.PrivateKey); ok {
			if err := checkCurve(alg, &priv.PublicKey); err != nil {
				return nil, err
			}
			return priv, nil
		}
	}
	return nil, errors.NewInvalidKeyError(fmt.Sprintf("%T cannot sign %s", k.material, alg), nil)
}

func (k *Key) verificationKey(alg Algorithm) (any, error) {
	switch family(alg) {
	case "HS":
		if secret, ok := k.material.([]byte); ok {
			return secret, nil
		}
	case "RS":
		switch m := k.material.(type) {
		case *rsa.PublicKey:
			return m, nil
		case *rsa.PrivateKey:
			return &m.PublicKey, nil
		}
	case "ES":
		var pub *ecdsa.PublicKey
		switch m := k.material.(type) {
		case *ecdsa.PublicKey:
			pub = m
		case *ecdsa.PrivateKey:
			pub = &m.PublicKey
		}
		if pub != nil {
			if err := checkCurve(alg, pub); err != nil {
				return nil, err
			}
			return pub, nil
		}
	}
	return nil, errors.NewInvalidKeyError(fmt.Sprintf("%T cannot verify %s", k.material, alg), nil)
}

func family(alg Algorithm) string {
	s := string(alg)
	if len(s) < 2 {
		return ""
	}
	return strings.ToUpper(s[:2])
}

var curveForAlg = map[Algorithm]string{
	ES256: "P-256",
	ES384: "P-384",
	ES512: "P-521",
}

func checkCurve(alg Algorithm, pub *ecdsa.PublicKey) error {
	want := curveForAlg[alg]
	if pub.Curve == nil || pub.Curve.Params().Name != want {
		return errors.NewInvalidKeyError(fmt.Sprintf("%s requires curve %s", alg, want), nil)
	}
	return nil
}
