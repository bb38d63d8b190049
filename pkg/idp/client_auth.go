// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/rpgate/pkg/token"
)

// AuthMethod is a token endpoint client authentication method.
type AuthMethod string

const (
	// AuthNone sends only client_id (public clients).
	AuthNone AuthMethod = "none"

	// AuthClientSecretPost sends client_id and client_secret in the form body.
	AuthClientSecretPost AuthMethod = "client_secret_post"

	// AuthClientSecretJWT sends an HS256 client assertion keyed by the client secret.
	AuthClientSecretJWT AuthMethod = "client_secret_jwt"

	// AuthPrivateKeyJWT sends a client assertion signed with the client's private key.
	AuthPrivateKeyJWT AuthMethod = "private_key_jwt"
)

const (
	// ClientAssertionType is the client_assertion_type for JWT assertions (RFC 7523).
	ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	assertionLifetime = 60 * time.Second
)

// ClientAuth configures how the gateway authenticates at the token endpoint.
type ClientAuth struct {
	Method AuthMethod

	// ClientSecret is used by client_secret_post and client_secret_jwt.
	ClientSecret string

	// Key signs private_key_jwt assertions.
	Key *token.Key

	// Algorithm of private_key_jwt assertions. Defaults to the key's own alg.
	Algorithm token.Algorithm
}

// Validate checks that the method has the material it needs.
func (a *ClientAuth) Validate() error {
	switch a.Method {
	case AuthNone:
		return nil
	case AuthClientSecretPost, AuthClientSecretJWT:
		if a.ClientSecret == "" {
			return fmt.Errorf("client secret is required for %s", a.Method)
		}
		return nil
	case AuthPrivateKeyJWT:
		if a.Key == nil {
			return errors.New("private key is required for private_key_jwt")
		}
		if !a.Key.IsPrivate() {
			return errors.New("private_key_jwt requires a private key")
		}
		alg := a.algorithm()
		if alg == "" {
			return errors.New("private_key_jwt requires an algorithm (configure one or set alg on the JWK)")
		}
		if !token.Supported(alg) {
			return fmt.Errorf("unsupported client assertion algorithm %q", alg)
		}
		return nil
	default:
		return fmt.Errorf("unknown client authentication method %q", a.Method)
	}
}

func (a *ClientAuth) algorithm() token.Algorithm {
	if a.Algorithm != "" {
		return a.Algorithm
	}
	if a.Key != nil {
		return a.Key.Algorithm
	}
	return ""
}

// apply adds the client credentials for one token request to params.
func (a *ClientAuth) apply(params url.Values, clientID, tokenURL string, now time.Time) error {
	params.Set("client_id", clientID)

	switch a.Method {
	case AuthNone:
		return nil
	case AuthClientSecretPost:
		params.Set("client_secret", a.ClientSecret)
		return nil
	case AuthClientSecretJWT:
		key, err := token.NewHMACKey([]byte(a.ClientSecret))
		if err != nil {
			return err
		}
		return a.addAssertion(params, key, token.HS256, clientID, tokenURL, now)
	case AuthPrivateKeyJWT:
		return a.addAssertion(params, a.Key, a.algorithm(), clientID, tokenURL, now)
	default:
		return fmt.Errorf("unknown client authentication method %q", a.Method)
	}
}

func (*ClientAuth) addAssertion(
	params url.Values, key *token.Key, alg token.Algorithm, clientID, tokenURL string, now time.Time,
) error {
	claims := token.Claims{
		token.ClaimIssuer:   clientID,
		token.ClaimSubject:  clientID,
		token.ClaimAudience: tokenURL,
		token.ClaimJWTID:    uuid.NewString(),
	}

	assertion, err := token.Sign(claims, key, alg,
		token.WithClock(func() time.Time { return now }),
		token.WithLifetime(assertionLifetime),
	)
	if err != nil {
		return fmt.Errorf("failed to sign client assertion: %w", err)
	}

	params.Set("client_assertion_type", ClientAssertionType)
	params.Set("client_assertion", assertion)
	return nil
}
