// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package relyingparty_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rperrors "github.com/stacklok/rpgate/pkg/errors"
	"github.com/stacklok/rpgate/pkg/idp"
	"github.com/stacklok/rpgate/pkg/idp/idptest"
	"github.com/stacklok/rpgate/pkg/relyingparty"
	"github.com/stacklok/rpgate/pkg/session"
)

// TestEngine_FullFlow drives every transition against an in-process provider.
func TestEngine_FullFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := idptest.NewServer(t)

	provider, err := idp.NewOIDCProvider(ctx, idp.Config{
		Issuer:                srv.Issuer,
		ClientID:              idptest.ClientID,
		ClientAuth:            idp.ClientAuth{Method: idp.AuthClientSecretPost, ClientSecret: idptest.ClientSecret},
		RedirectURL:           "https://app.example.com/oauth2/callback",
		PostLogoutRedirectURL: "https://app.example.com/",
	})
	require.NoError(t, err)

	clock := newTestClock()
	clock.now.Store(time.Now().UnixNano())
	store := session.NewMemoryStore(session.WithClock(clock.Now), session.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	engine, err := relyingparty.NewEngine(store, provider, relyingparty.DefaultOptions(), relyingparty.WithClock(clock.Now))
	require.NoError(t, err)

	// Login
	w := httptest.NewRecorder()
	authURL, err := engine.Login(ctx, w, relyingparty.LoginRequest{RedirectTo: "/app"})
	require.NoError(t, err)
	cookie := sessionCookie(t, w)
	require.NotNil(t, cookie)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state, nonce := u.Query().Get("state"), u.Query().Get("nonce")
	require.NotEmpty(t, state)
	require.NotEmpty(t, nonce)

	// the provider authenticates the user and redirects back
	code := srv.IssueCode(nonce)
	w = httptest.NewRecorder()
	target, err := engine.Callback(ctx, w, requestWithCookie(
		"/oauth2/callback?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(state), cookie.Value))
	require.NoError(t, err)
	assert.Equal(t, "/app", target)

	// the form carried the PKCE verifier matching the challenge
	forms := srv.Requests()
	require.Len(t, forms, 1)
	assert.Equal(t, u.Query().Get("code_challenge"), idp.ComputeChallenge(forms[0].Get("code_verifier")))

	// Check
	sess, err := engine.Check(ctx, httptest.NewRecorder(), requestWithCookie("/auth", cookie.Value))
	require.NoError(t, err)
	assert.Equal(t, idptest.Subject, sess.Subject())
	assert.Equal(t, idptest.Email, sess.Email())

	claims, err := engine.UserInfo(ctx, httptest.NewRecorder(), sess)
	require.NoError(t, err)
	assert.Equal(t, idptest.Subject, claims["sub"])

	// the ID token lapses and Check refreshes it
	clock.Advance(2 * time.Hour)
	w = httptest.NewRecorder()
	refreshed, err := engine.Check(ctx, w, requestWithCookie("/auth", cookie.Value))
	require.NoError(t, err)
	assert.NotEqual(t, sess.AccessToken, refreshed.AccessToken)
	assert.Equal(t, sess.RefreshToken, refreshed.RefreshToken)
	assert.True(t, refreshed.ExpiresAt.After(sess.ExpiresAt))
	require.NotNil(t, sessionCookie(t, w))

	// Logout
	w = httptest.NewRecorder()
	endSession, err := engine.Logout(ctx, w, requestWithCookie("/logout", cookie.Value))
	require.NoError(t, err)
	eu, err := url.Parse(endSession)
	require.NoError(t, err)
	assert.Equal(t, refreshed.IDToken, eu.Query().Get("id_token_hint"))

	_, err = engine.Check(ctx, httptest.NewRecorder(), requestWithCookie("/auth", cookie.Value))
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, rperrors.Code(err))
}
