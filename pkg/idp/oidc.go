// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/stacklok/rpgate/pkg/logger"
	"github.com/stacklok/rpgate/pkg/networking"
)

const (
	instrumentationName = "github.com/stacklok/rpgate/pkg/idp"

	// maxResponseSize bounds token and error bodies read from the provider.
	maxResponseSize = 1 << 20

	discoveryMaxTries = 5
)

// Compile-time interface compliance check.
var _ Provider = (*OIDCProvider)(nil)

var errInvalidConfig = errors.New("invalid provider config")

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// Config configures an OIDCProvider.
type Config struct {
	// Issuer is the provider's issuer URL, used for discovery.
	Issuer string

	ClientID   string
	ClientAuth ClientAuth

	// RedirectURL is the gateway's callback URL registered with the provider.
	RedirectURL string

	// PostLogoutRedirectURL is sent as post_logout_redirect_uri, and used as
	// the logout target when the provider has no end_session_endpoint.
	PostLogoutRedirectURL string

	// Scopes must include openid. Defaults to DefaultScopes.
	Scopes []string

	// HTTPClient is used for every provider request. Defaults to a client
	// from networking.NewHttpClientBuilder.
	HTTPClient *http.Client
}

// Validate checks the static configuration.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("%w: issuer is required", errInvalidConfig)
	}
	if _, err := url.ParseRequestURI(c.Issuer); err != nil {
		return fmt.Errorf("%w: issuer is not a valid URL: %w", errInvalidConfig, err)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%w: client id is required", errInvalidConfig)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%w: redirect url is required", errInvalidConfig)
	}
	if len(c.Scopes) > 0 && !slices.Contains(c.Scopes, oidc.ScopeOpenID) {
		return fmt.Errorf("%w: the openid scope is required", errInvalidConfig)
	}
	if err := c.ClientAuth.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	return nil
}

// discoveryClaims are the provider metadata fields go-oidc does not expose.
type discoveryClaims struct {
	Issuer                        string   `json:"issuer"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserInfoEndpoint              string   `json:"userinfo_endpoint"`
	EndSessionEndpoint            string   `json:"end_session_endpoint"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// OIDCProvider implements Provider against a discovered OpenID Connect provider.
// It is immutable after construction and safe for concurrent use.
type OIDCProvider struct {
	config       Config
	httpClient   *http.Client
	provider     *oidc.Provider
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	endpoints    discoveryClaims

	tracer trace.Tracer
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an OIDCProvider.
type Option func(*OIDCProvider)

// WithTracerProvider sets the tracer provider for provider spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *OIDCProvider) {
		p.tracer = tp.Tracer(instrumentationName)
	}
}

// WithClock overrides the time source used for token expiry and ID token checks.
func WithClock(now func() time.Time) Option {
	return func(p *OIDCProvider) {
		p.now = now
	}
}

// NewOIDCProvider performs discovery against cfg.Issuer and returns a ready provider.
func NewOIDCProvider(ctx context.Context, cfg Config, opts ...Option) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &OIDCProvider{
		config: cfg,
		tracer: otel.GetTracerProvider().Tracer(instrumentationName),
		now:    time.Now,
		logger: logger.For("idp"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.httpClient = cfg.HTTPClient
	if p.httpClient == nil {
		client, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		p.httpClient = client
	}

	// The provider keeps this context for later JWKS fetches, so it must
	// outlive the discovery call.
	discoveryCtx := oidc.ClientContext(context.WithoutCancel(ctx), p.httpClient)
	provider, err := oidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}
	if err := provider.Claims(&p.endpoints); err != nil {
		return nil, fmt.Errorf("failed to extract provider claims: %w", err)
	}
	if p.endpoints.TokenEndpoint == "" {
		return nil, errors.New("discovery document has no token_endpoint")
	}
	if len(p.endpoints.CodeChallengeMethodsSupported) > 0 &&
		!slices.Contains(p.endpoints.CodeChallengeMethodsSupported, CodeChallengeMethod) {
		p.logger.Warn("provider does not advertise S256 PKCE support, sending it anyway",
			"issuer", cfg.Issuer)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	p.provider = provider
	p.oauth2Config = &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   provider.Endpoint().AuthURL,
			TokenURL:  provider.Endpoint().TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	p.verifier = provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
		Now:      p.now,
	})

	p.logger.Debug("oidc provider discovered",
		"issuer", p.endpoints.Issuer,
		"client_auth", string(cfg.ClientAuth.Method),
		"end_session_supported", p.endpoints.EndSessionEndpoint != "",
	)
	return p, nil
}

// Discover calls NewOIDCProvider, retrying transient discovery failures with
// exponential backoff. Configuration errors are not retried.
func Discover(ctx context.Context, cfg Config, opts ...Option) (*OIDCProvider, error) {
	attempt := 0
	operation := func() (*OIDCProvider, error) {
		attempt++
		p, err := NewOIDCProvider(ctx, cfg, opts...)
		if errors.Is(err, errInvalidConfig) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			logger.Warnf("OIDC discovery failed (attempt %d/%d): %v", attempt, discoveryMaxTries, err)
			return nil, err
		}
		return p, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(discoveryMaxTries),
		backoff.WithNotify(func(_ error, d time.Duration) {
			logger.Debugf("retrying OIDC discovery after %v", d)
		}),
	)
}

// AuthorizationURL implements Provider.
func (p *OIDCProvider) AuthorizationURL(req AuthorizationRequest) (string, error) {
	if req.State == "" {
		return "", errors.New("state parameter is required")
	}
	if req.CodeChallenge == "" {
		return "", errors.New("code challenge is required")
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", CodeChallengeMethod),
	}
	if req.Nonce != "" {
		opts = append(opts, oidc.Nonce(req.Nonce))
	}
	return p.oauth2Config.AuthCodeURL(req.State, opts...), nil
}

// ExchangeCode implements Provider.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, req ExchangeRequest) (_ *Tokens, err error) {
	ctx, finish := p.startSpan(ctx, "idp.ExchangeCode", attribute.Bool("idp.nonce", req.Nonce != ""))
	defer func() { finish(err) }()

	if req.Code == "" {
		return nil, errors.New("authorization code is required")
	}

	params := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {req.Code},
		"redirect_uri":  {p.config.RedirectURL},
		"code_verifier": {req.CodeVerifier},
	}
	tokens, err := p.tokenRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	if tokens.IDToken != "" {
		if err := p.verifyIDToken(ctx, tokens.IDToken, req.Nonce); err != nil {
			return nil, err
		}
	}

	p.logger.Debug("authorization code exchange successful",
		"has_refresh_token", tokens.RefreshToken != "",
		"has_id_token", tokens.IDToken != "",
	)
	return tokens, nil
}

// RefreshTokens implements Provider.
func (p *OIDCProvider) RefreshTokens(ctx context.Context, refreshToken string) (_ *Tokens, err error) {
	ctx, finish := p.startSpan(ctx, "idp.RefreshTokens")
	defer func() { finish(err) }()

	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	tokens, err := p.tokenRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	// Nonce is not re-checked: providers may omit it from refreshed ID tokens.
	if tokens.IDToken != "" {
		if err := p.verifyIDToken(ctx, tokens.IDToken, ""); err != nil {
			return nil, err
		}
	}

	p.logger.Debug("token refresh successful", "rotated_refresh_token", tokens.RefreshToken != "")
	return tokens, nil
}

// EndSessionURL implements Provider. Without an end_session_endpoint the
// post-logout redirect URL is returned as is.
func (p *OIDCProvider) EndSessionURL(idTokenHint string) (string, error) {
	if p.endpoints.EndSessionEndpoint == "" {
		if p.config.PostLogoutRedirectURL == "" {
			return "/", nil
		}
		return p.config.PostLogoutRedirectURL, nil
	}

	u, err := url.Parse(p.endpoints.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid end_session_endpoint: %w", err)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if p.config.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", p.config.PostLogoutRedirectURL)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UserInfo implements Provider.
func (p *OIDCProvider) UserInfo(ctx context.Context, accessToken string) (_ map[string]any, err error) {
	ctx, finish := p.startSpan(ctx, "idp.UserInfo")
	defer func() { finish(err) }()

	if p.endpoints.UserInfoEndpoint == "" {
		return nil, errors.New("provider has no userinfo endpoint")
	}

	info, err := p.provider.UserInfo(
		oidc.ClientContext(ctx, p.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("userinfo request failed: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUserInfoRejected, err)
	}

	claims := map[string]any{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to decode claims: %w", ErrUserInfoRejected, err)
	}
	return claims, nil
}

func (p *OIDCProvider) verifyIDToken(ctx context.Context, raw, nonce string) error {
	idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.httpClient), raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIDTokenInvalid, err)
	}
	if nonce != "" {
		if idToken.Nonce == "" {
			return ErrNonceMissing
		}
		if idToken.Nonce != nonce {
			return ErrNonceMismatch
		}
	}
	return nil
}

// tokenRequest performs a token request with client authentication applied.
func (p *OIDCProvider) tokenRequest(ctx context.Context, params url.Values) (*Tokens, error) {
	tokenURL := p.oauth2Config.Endpoint.TokenURL
	if err := p.config.ClientAuth.apply(params, p.config.ClientID, tokenURL, p.now()); err != nil {
		return nil, err
	}

	start := time.Now()
	grantType := params.Get("grant_type")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		observeRequest(grantType, "error", start)
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		observeRequest(grantType, "error", start)
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	tokens, err := parseTokenResponse(body, resp.StatusCode, p.now())
	if err != nil {
		outcome := "error"
		if IsRejection(err) {
			outcome = "rejected"
		}
		observeRequest(grantType, outcome, start)
		return nil, err
	}
	observeRequest(grantType, "ok", start)
	return tokens, nil
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	TokenType        string      `json:"token_type"`
	RefreshToken     string      `json:"refresh_token"`
	IDToken          string      `json:"id_token"`
	ExpiresIn        json.Number `json:"expires_in"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// parseTokenResponse maps a token endpoint response to Tokens. 4xx answers
// become *TokenError; other non-200 statuses are provider faults.
func parseTokenResponse(body []byte, status int, now time.Time) (*Tokens, error) {
	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if status != http.StatusOK {
		if status >= 400 && status < 500 {
			te := &TokenError{StatusCode: status, Code: tr.Error, Description: tr.ErrorDescription}
			if te.Code == "" {
				te.Code = "invalid_request"
			}
			return nil, te
		}
		return nil, fmt.Errorf("token endpoint returned unexpected status %d", status)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTokenResponse, decodeErr)
	}
	if tr.Error != "" {
		return nil, &TokenError{StatusCode: status, Code: tr.Error, Description: tr.ErrorDescription}
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrInvalidTokenResponse)
	}

	tokens := &Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn != "" {
		secs, err := tr.ExpiresIn.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expires_in: %w", ErrInvalidTokenResponse, err)
		}
		tokens.ExpiresAt = now.Add(time.Duration(secs) * time.Second)
	}
	return tokens, nil
}

func (p *OIDCProvider) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("idp.issuer", p.config.Issuer))...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
