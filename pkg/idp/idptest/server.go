// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package idptest provides an in-process OpenID Connect provider for tests.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/rpgate/pkg/token"
)

const (
	// ClientID is the only client the server knows.
	ClientID = "rpgate-test"

	// ClientSecret authenticates ClientID with client_secret_post.
	ClientSecret = "rpgate-test-secret"

	// Subject is the user every login authenticates as.
	Subject = "user-123"

	// Email is the email claim of Subject.
	Email = "user@example.com"

	keyID = "test-key-1"
)

// Server is a minimal OpenID provider: discovery, JWKS, token endpoint
// (authorization_code and refresh_token), userinfo and end_session.
type Server struct {
	*httptest.Server

	// Issuer equals the server URL.
	Issuer string

	key *token.Key

	mu            sync.Mutex
	codes         map[string]string // code -> nonce
	refreshTokens map[string]bool
	accessTokens  map[string]bool
	requests      []url.Values

	idTokenLifetime time.Duration
	rotateRefresh   bool
	tokenHandler    http.HandlerFunc
}

// NewServer starts a provider that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := token.NewKey(privateKey)
	require.NoError(t, err)
	key.KeyID = keyID

	s := &Server{
		key:             key,
		codes:           map[string]string{},
		refreshTokens:   map[string]bool{},
		accessTokens:    map[string]bool{},
		idTokenLifetime: time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("GET /jwks", s.handleJWKS(privateKey))
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("GET /userinfo", s.handleUserInfo)
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	s.Server = httptest.NewServer(mux)
	s.Issuer = s.URL
	t.Cleanup(s.Close)
	return s
}

// SetIDTokenLifetime changes the exp offset of ID tokens issued from now on.
func (s *Server) SetIDTokenLifetime(d time.Duration) {
	s.mu.Lock()
	s.idTokenLifetime = d
	s.mu.Unlock()
}

// SetRefreshRotation makes the refresh grant revoke the presented refresh
// token and return a new one.
func (s *Server) SetRefreshRotation(rotate bool) {
	s.mu.Lock()
	s.rotateRefresh = rotate
	s.mu.Unlock()
}

// SetTokenHandler replaces the token endpoint. Posted forms are still recorded.
func (s *Server) SetTokenHandler(h http.HandlerFunc) {
	s.mu.Lock()
	s.tokenHandler = h
	s.mu.Unlock()
}

// IssueCode registers an authorization code bound to nonce, as the
// authorization endpoint would after a successful login.
func (s *Server) IssueCode(nonce string) string {
	code := rand.Text()
	s.mu.Lock()
	s.codes[code] = nonce
	s.mu.Unlock()
	return code
}

// IssueRefreshToken registers a refresh token the refresh grant will accept.
func (s *Server) IssueRefreshToken() string {
	rt := "rt-" + rand.Text()
	s.mu.Lock()
	s.refreshTokens[rt] = true
	s.mu.Unlock()
	return rt
}

// RevokeRefreshToken makes the refresh grant reject rt.
func (s *Server) RevokeRefreshToken(rt string) {
	s.mu.Lock()
	delete(s.refreshTokens, rt)
	s.mu.Unlock()
}

// Requests returns the forms posted to the token endpoint so far.
func (s *Server) Requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.requests...)
}

// IDToken signs an ID token for Subject. Extra claims override the defaults.
func (s *Server) IDToken(t *testing.T, extra token.Claims) string {
	t.Helper()
	raw, err := s.signIDToken(extra)
	require.NoError(t, err)
	return raw
}

func (s *Server) signIDToken(extra token.Claims) (string, error) {
	now := time.Now()
	s.mu.Lock()
	lifetime := s.idTokenLifetime
	s.mu.Unlock()

	claims := token.Claims{
		token.ClaimIssuer:    s.Issuer,
		token.ClaimSubject:   Subject,
		token.ClaimAudience:  ClientID,
		token.ClaimIssuedAt:  now.Unix(),
		token.ClaimExpiresAt: now.Add(lifetime).Unix(),
		"email":              Email,
	}
	for k, v := range extra {
		claims[k] = v
	}
	return token.Sign(claims, s.key, token.RS256, token.WithKeyID(keyID))
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.Issuer,
		"authorization_endpoint":                s.Issuer + "/authorize",
		"token_endpoint":                        s.Issuer + "/token",
		"userinfo_endpoint":                     s.Issuer + "/userinfo",
		"end_session_endpoint":                  s.Issuer + "/logout",
		"jwks_uri":                              s.Issuer + "/jwks",
		"code_challenge_methods_supported":      []string{"S256"},
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (*Server) handleJWKS(privateKey *rsa.PrivateKey) http.HandlerFunc {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &privateKey.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, set)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", err.Error())
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, r.PostForm)
	handler, rotate := s.tokenHandler, s.rotateRefresh
	s.mu.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}

	if r.PostForm.Get("client_id") != ClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		nonce, ok := s.codes[r.PostForm.Get("code")]
		delete(s.codes, r.PostForm.Get("code"))
		s.mu.Unlock()
		if !ok {
			tokenError(w, "invalid_grant", "unknown authorization code")
			return
		}
		if r.PostForm.Get("code_verifier") == "" {
			tokenError(w, "invalid_grant", "code_verifier required")
			return
		}
		extra := token.Claims{}
		if nonce != "" {
			extra["nonce"] = nonce
		}
		s.writeTokens(w, extra, s.IssueRefreshToken())

	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		s.mu.Lock()
		ok := s.refreshTokens[rt]
		s.mu.Unlock()
		if !ok {
			tokenError(w, "invalid_grant", "refresh token revoked")
			return
		}
		next := ""
		if rotate {
			s.RevokeRefreshToken(rt)
			next = s.IssueRefreshToken()
		}
		s.writeTokens(w, token.Claims{}, next)

	default:
		tokenError(w, "unsupported_grant_type", "")
	}
}

func (s *Server) writeTokens(w http.ResponseWriter, extra token.Claims, refreshToken string) {
	idToken, err := s.signIDToken(extra)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	accessToken := "at-" + rand.Text()
	s.mu.Lock()
	s.accessTokens[accessToken] = true
	s.mu.Unlock()

	resp := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	}
	if refreshToken != "" {
		resp["refresh_token"] = refreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	at, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	valid := ok && s.accessTokens[at]
	s.mu.Unlock()
	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":   Subject,
		"email": Email,
		"name":  "Test User",
	})
}

func tokenError(w http.ResponseWriter, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	writeJSON(w, http.StatusBadRequest, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
