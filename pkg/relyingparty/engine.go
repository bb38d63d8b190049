// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package relyingparty implements the session lifecycle of an OpenID Connect
// relying party: login, callback, session check with refresh, and logout.
//
// A session moves Absent -> Pending (Login) -> Active (Callback) and stays
// Active across refreshes until Logout or any failure removes it. Every
// failure deletes the record and clears the cookie before it is returned.
package relyingparty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	rperrors "github.com/stacklok/rpgate/pkg/errors"
	"github.com/stacklok/rpgate/pkg/idp"
	"github.com/stacklok/rpgate/pkg/logger"
	"github.com/stacklok/rpgate/pkg/session"
	"github.com/stacklok/rpgate/pkg/token"
)

const (
	// DefaultLoginExpiration bounds the time between Login and Callback.
	DefaultLoginExpiration = 60 * time.Second

	// DefaultRefreshExpiration is the lifetime of an active session, renewed
	// on every callback and refresh.
	DefaultRefreshExpiration = 30 * 24 * time.Hour

	instrumentationName = "github.com/stacklok/rpgate/pkg/relyingparty"
)

// Options tune the engine's session lifecycle.
type Options struct {
	// LoginExpiration is the lifetime of a pending session.
	LoginExpiration time.Duration

	// RefreshExpiration is the lifetime of an active session.
	RefreshExpiration time.Duration

	// AutoRefresh lets Check run the refresh grant for a lapsed ID token.
	AutoRefresh bool

	// SessionCookie issues the cookie without Expires and never extends it.
	SessionCookie bool

	// PostCallbackRedirectURL is where Callback sends the browser when the
	// login carried no redirect target.
	PostCallbackRedirectURL string

	// WhitelistDomains are the hosts a login redirect target may point to.
	WhitelistDomains []string
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		LoginExpiration:         DefaultLoginExpiration,
		RefreshExpiration:       DefaultRefreshExpiration,
		AutoRefresh:             true,
		PostCallbackRedirectURL: "/",
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if o.LoginExpiration <= 0 {
		return errors.New("login expiration must be positive")
	}
	if o.RefreshExpiration <= o.LoginExpiration {
		return errors.New("refresh expiration must be longer than login expiration")
	}
	if o.PostCallbackRedirectURL == "" {
		return errors.New("post-callback redirect URL is required")
	}
	return nil
}

// LoginRequest carries the optional post-login redirect target and the
// session id the browser presented, if any. That session is ended before
// the new flow starts.
type LoginRequest struct {
	RedirectTo        string
	PreviousSessionID string
}

// Session is an established session as seen by protected handlers.
type Session struct {
	ID           string
	ExpiresAt    time.Time
	IDToken      string
	AccessToken  string
	RefreshToken string

	// Claims are the decoded, unverified claims of IDToken.
	Claims token.Claims
}

// Subject returns the sub claim of the ID token.
func (s *Session) Subject() string {
	return s.Claims.Subject()
}

// Email returns the email claim of the ID token, if any.
func (s *Session) Email() string {
	return s.Claims.String("email")
}

// Engine runs session transitions against a store and an identity provider.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	store    session.Store
	provider idp.Provider
	opts     Options

	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer

	// refreshes collapses concurrent refreshes of one session, so a rotating
	// refresh token is redeemed once.
	refreshes singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTracerProvider sets the tracer provider for transition spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(instrumentationName)
	}
}

// NewEngine creates an Engine.
func NewEngine(store session.Store, provider idp.Provider, opts Options, options ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	e := &Engine{
		store:    store,
		provider: provider,
		opts:     opts,
		now:      time.Now,
		logger:   logger.For("relyingparty"),
		tracer:   otel.GetTracerProvider().Tracer(instrumentationName),
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

// Login starts an authorization-code flow: it stores a pending session,
// sets the session cookie and returns the provider's authorization URL.
func (e *Engine) Login(ctx context.Context, w http.ResponseWriter, req LoginRequest) (_ string, err error) {
	ctx, finish := e.startSpan(ctx, "Login")
	defer func() { finish(err) }()

	verifier := idp.GenerateVerifier()
	id := idp.RandomString()
	state := idp.RandomString()
	nonce := idp.RandomString()

	redirectTo := ""
	if req.RedirectTo != "" {
		if RedirectAllowed(req.RedirectTo, e.opts.WhitelistDomains) {
			redirectTo = req.RedirectTo
		} else {
			e.logger.Info("ignoring redirect target outside the whitelist", "rd", req.RedirectTo)
		}
	}

	authURL, err := e.provider.AuthorizationURL(idp.AuthorizationRequest{
		State:         state,
		CodeChallenge: idp.ComputeChallenge(verifier),
		Nonce:         nonce,
	})
	if err != nil {
		return "", rperrors.NewInternalError("failed to build authorization URL", err)
	}

	expiresAt := e.now().Add(e.opts.LoginExpiration)
	rec, err := session.NewPending(id, expiresAt, session.Pending{
		CodeVerifier: verifier,
		State:        state,
		Nonce:        nonce,
		RedirectTo:   redirectTo,
	})
	if err != nil {
		return "", rperrors.NewInternalError("failed to create login session", err)
	}
	if req.PreviousSessionID != "" {
		if err := e.store.Delete(context.WithoutCancel(ctx), req.PreviousSessionID); err != nil {
			e.logger.Warn("failed to delete previous session",
				"session_id", session.Redact(req.PreviousSessionID), "error", err)
		}
	}
	if err := e.store.Set(ctx, rec); err != nil {
		return "", rperrors.NewInternalError("failed to store login session", err)
	}

	e.setCookie(w, id, expiresAt)
	e.logger.Debug("login started", "session_id", session.Redact(id), "has_redirect", redirectTo != "")
	return authURL, nil
}

// Callback completes the flow started by Login. It redeems the code, stores
// the active session and returns where the browser should go next.
func (e *Engine) Callback(ctx context.Context, w http.ResponseWriter, r *http.Request) (_ string, err error) {
	ctx, finish := e.startSpan(ctx, "Callback")
	defer func() { finish(err) }()

	id, ok := sessionID(r)
	if !ok {
		clearCookie(w)
		return "", rperrors.NewMissingSessionError("no session cookie", nil)
	}
	defer func() {
		if err != nil {
			e.discard(ctx, w, id)
		}
	}()

	rec, err := e.load(ctx, id)
	if err != nil {
		return "", err
	}
	pending, ok := rec.Pending()
	if !ok {
		return "", rperrors.NewInvalidStateError("session is not awaiting a callback", nil)
	}

	q := r.URL.Query()
	if pending.State != "" && q.Get("state") != pending.State {
		return "", rperrors.NewInvalidStateError("state mismatch", nil)
	}
	if code := q.Get("error"); code != "" {
		var cause error
		if desc := q.Get("error_description"); desc != "" {
			cause = errors.New(desc)
		}
		return "", rperrors.NewIdPExchangeFailureError(fmt.Sprintf("identity provider returned %s", code), cause)
	}
	if q.Get("code") == "" {
		return "", rperrors.NewIdPExchangeFailureError("authorization response has no code", nil)
	}

	tokens, err := e.provider.ExchangeCode(ctx, idp.ExchangeRequest{
		Code:         q.Get("code"),
		CodeVerifier: pending.CodeVerifier,
		Nonce:        pending.Nonce,
	})
	if err != nil {
		if idp.IsRejection(err) {
			return "", rperrors.NewIdPExchangeFailureError("identity provider rejected the authorization code", err)
		}
		return "", rperrors.NewInternalError("authorization code exchange failed", err)
	}
	if !tokens.Usable(e.now()) {
		return "", rperrors.NewSessionUpdateFailedError("token response cannot back a session", nil)
	}

	sess, err := e.promote(ctx, id, rec.ExpiresAt, session.Active{
		IDToken:      tokens.IDToken,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
	if err != nil {
		return "", err
	}
	e.extendCookie(w, id, sess.ExpiresAt)

	e.logger.Debug("login completed", "session_id", session.Redact(id))
	if pending.RedirectTo != "" {
		return pending.RedirectTo, nil
	}
	return e.opts.PostCallbackRedirectURL, nil
}

// Check resolves the request's session. A lapsed ID token is refreshed when
// AutoRefresh is on and a refresh token exists; otherwise the session ends.
// A request without a session cookie never reaches the store.
func (e *Engine) Check(ctx context.Context, w http.ResponseWriter, r *http.Request) (_ *Session, err error) {
	ctx, finish := e.startSpan(ctx, "Check")
	defer func() { finish(err) }()

	id, ok := sessionID(r)
	if !ok {
		clearCookie(w)
		return nil, rperrors.NewMissingSessionError("no session cookie", nil)
	}

	rec, err := e.load(ctx, id)
	if err != nil {
		e.discard(ctx, w, id)
		return nil, err
	}
	active, ok := rec.Active()
	if !ok {
		e.discard(ctx, w, id)
		return nil, rperrors.NewInvalidStateError("session is not active", nil)
	}

	claims, err := idTokenClaims(active.IDToken)
	if err != nil {
		e.discard(ctx, w, id)
		return nil, err
	}

	exp, _ := claims.ExpiresAt()
	if exp.UnixMilli() > e.now().UnixMilli() {
		return newSession(rec.ID, rec.ExpiresAt, active, claims), nil
	}

	if e.opts.AutoRefresh && active.RefreshToken != "" {
		return e.Refresh(ctx, w, rec)
	}

	e.discard(ctx, w, id)
	return nil, rperrors.NewSessionExpiredError("id token expired", nil)
}

// Refresh runs the refresh grant for the active session in rec and replaces
// it with the renewed tokens. The stored refresh token is kept when the
// provider does not rotate it. Concurrent refreshes of the same session
// share one grant.
func (e *Engine) Refresh(ctx context.Context, w http.ResponseWriter, rec *session.Record) (_ *Session, err error) {
	ctx, finish := e.startSpan(ctx, "Refresh")
	defer func() { finish(err) }()

	id := rec.ID
	current, ok := rec.Active()
	if !ok {
		e.discard(ctx, w, id)
		return nil, rperrors.NewInvalidStateError("session is not active", nil)
	}

	v, err, shared := e.refreshes.Do(id, func() (any, error) {
		return e.renew(context.WithoutCancel(ctx), id, rec.ExpiresAt, current)
	})
	if err != nil {
		e.discard(ctx, w, id)
		return nil, err
	}

	sess := v.(*Session)
	e.extendCookie(w, id, sess.ExpiresAt)
	e.logger.Debug("session refreshed", "session_id", session.Redact(id), "shared", shared)
	return sess, nil
}

// renew redeems the refresh token and stores the renewed session.
func (e *Engine) renew(ctx context.Context, id string, prev time.Time, current session.Active) (*Session, error) {
	if current.RefreshToken == "" {
		return nil, rperrors.NewRefreshFailureError("session has no refresh token", nil)
	}

	tokens, err := e.provider.RefreshTokens(ctx, current.RefreshToken)
	if err != nil {
		if idp.IsRejection(err) {
			return nil, rperrors.NewRefreshFailureError("identity provider rejected the refresh token", err)
		}
		return nil, rperrors.NewInternalError("token refresh failed", err)
	}
	if !tokens.Usable(e.now()) {
		return nil, rperrors.NewSessionUpdateFailedError("token response cannot back a session", nil)
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}

	return e.promote(ctx, id, prev, session.Active{
		IDToken:      tokens.IDToken,
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
	})
}

// Logout ends the session, if any, and returns the provider's end-session
// URL. It succeeds without a cookie or a stored session.
func (e *Engine) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) (_ string, err error) {
	ctx, finish := e.startSpan(ctx, "Logout")
	defer func() { finish(err) }()

	hint := ""
	if id, ok := sessionID(r); ok {
		rec, getErr := e.store.Get(ctx, id)
		switch {
		case getErr == nil:
			if active, ok := rec.Active(); ok && !rec.Expired(e.now()) {
				hint = active.IDToken
			}
		case !errors.Is(getErr, session.ErrNotFound):
			e.logger.Warn("failed to read session on logout", "session_id", session.Redact(id), "error", getErr)
		}
		e.discard(ctx, w, id)
	} else {
		clearCookie(w)
	}

	endSessionURL, err := e.provider.EndSessionURL(hint)
	if err != nil {
		return "", rperrors.NewInternalError("failed to build end-session URL", err)
	}
	return endSessionURL, nil
}

// UserInfo fetches the provider's claims for sess. A rejected access token
// ends the session.
func (e *Engine) UserInfo(ctx context.Context, w http.ResponseWriter, sess *Session) (_ map[string]any, err error) {
	ctx, finish := e.startSpan(ctx, "UserInfo")
	defer func() { finish(err) }()

	claims, err := e.provider.UserInfo(ctx, sess.AccessToken)
	if err != nil {
		e.discard(ctx, w, sess.ID)
		if idp.IsRejection(err) {
			return nil, rperrors.NewSessionExpiredError("identity provider rejected the access token", err)
		}
		return nil, rperrors.NewInternalError("userinfo request failed", err)
	}
	return claims, nil
}

// load reads a record and applies lazy expiry.
func (e *Engine) load(ctx context.Context, id string) (*session.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, rperrors.NewSessionNotFoundError("session not found", nil)
	}
	if err != nil {
		return nil, rperrors.NewInternalError("failed to read session", err)
	}
	if rec.Expired(e.now()) {
		return nil, rperrors.NewSessionNotFoundError("session expired", nil)
	}
	return rec, nil
}

// promote replaces the record under id with an active payload. The new
// expiry is later than prev even when the window shrank or the clock
// stepped back.
func (e *Engine) promote(ctx context.Context, id string, prev time.Time, active session.Active) (*Session, error) {
	claims, err := idTokenClaims(active.IDToken)
	if err != nil {
		return nil, err
	}

	expiresAt := e.now().Add(e.opts.RefreshExpiration)
	if floor := prev.Add(time.Millisecond); expiresAt.Before(floor) {
		expiresAt = floor
	}
	rec, err := session.NewActive(id, expiresAt, active)
	if err != nil {
		return nil, rperrors.NewSessionUpdateFailedError("token response cannot back a session", err)
	}
	if err := e.store.Set(ctx, rec); err != nil {
		return nil, rperrors.NewInternalError("failed to store session", err)
	}
	return newSession(id, expiresAt, active, claims), nil
}

// extendCookie moves the cookie expiry to the session's new expiry. Browser
// session cookies are left alone.
func (e *Engine) extendCookie(w http.ResponseWriter, id string, expiresAt time.Time) {
	if !e.opts.SessionCookie {
		e.setCookie(w, id, expiresAt)
	}
}

// discard deletes the session best-effort and clears the cookie.
func (e *Engine) discard(ctx context.Context, w http.ResponseWriter, id string) {
	if err := e.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		e.logger.Warn("failed to delete session", "session_id", session.Redact(id), "error", err)
	}
	clearCookie(w)
}

func (e *Engine) startSpan(ctx context.Context, transition string) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, "relyingparty."+transition,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("rpgate.transition", transition)),
	)
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = rperrors.TypeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		transitionsTotal.WithLabelValues(transition, outcome).Inc()
		span.End()
	}
}

func idTokenClaims(raw string) (token.Claims, error) {
	tok, err := token.Decode(raw)
	if err != nil {
		return nil, err
	}
	if tok.Claims.Issuer() == "" {
		return nil, rperrors.NewMalformedTokenError("id token has no iss claim", nil)
	}
	if _, ok := tok.Claims.ExpiresAt(); !ok {
		return nil, rperrors.NewMalformedTokenError("id token has no exp claim", nil)
	}
	return tok.Claims, nil
}

func newSession(id string, expiresAt time.Time, active session.Active, claims token.Claims) *Session {
	return &Session{
		ID:           id,
		ExpiresAt:    expiresAt,
		IDToken:      active.IDToken,
		AccessToken:  active.AccessToken,
		RefreshToken: active.RefreshToken,
		Claims:       claims,
	}
}
