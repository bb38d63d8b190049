// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/stacklok/rpgate/pkg/api/errors"
	rperrors "github.com/stacklok/rpgate/pkg/errors"
	"github.com/stacklok/rpgate/pkg/gate"
	"github.com/stacklok/rpgate/pkg/relyingparty"
)

const (
	// DefaultPathPrefix is where the browser-facing routes are mounted.
	DefaultPathPrefix = "/oauth2"

	// DefaultRequestTimeout bounds the handling of a single request.
	DefaultRequestTimeout = 60 * time.Second

	// HeaderAuthUser carries the session subject on a successful /auth.
	HeaderAuthUser = "X-Auth-Request-User"

	// HeaderAuthEmail carries the session email, when known, on a successful /auth.
	HeaderAuthEmail = "X-Auth-Request-Email"

	redirectParam = "rd"
)

// Engine is the part of relyingparty.Engine the routes drive.
type Engine interface {
	gate.SessionChecker
	Login(ctx context.Context, w http.ResponseWriter, req relyingparty.LoginRequest) (string, error)
	Callback(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error)
	Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error)
	UserInfo(ctx context.Context, w http.ResponseWriter, sess *relyingparty.Session) (map[string]any, error)
}

// HealthChecker reports whether a dependency can serve requests.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// PathPrefix is where the browser-facing routes are mounted.
	PathPrefix string

	// RequestTimeout bounds each request. Zero uses DefaultRequestTimeout.
	RequestTimeout time.Duration

	// MaxBodySize caps request bodies. Zero uses DefaultMaxBodySize.
	MaxBodySize int64
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.PathPrefix == "" {
		c.PathPrefix = DefaultPathPrefix
	}
	c.PathPrefix = "/" + strings.Trim(c.PathPrefix, "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	return c
}

// NewRouter builds the HTTP handler for engine. health backs /health.
func NewRouter(engine Engine, health HealthChecker, cfg RouterConfig) http.Handler {
	cfg = cfg.withDefaults()

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(cfg.RequestTimeout),
	)

	r.Get("/health", healthHandler(health))
	r.Handle("/metrics", promhttp.Handler())

	routes := &sessionRoutes{engine: engine}
	protected := gate.New(engine)

	r.Route(cfg.PathPrefix, func(r chi.Router) {
		r.Use(noStoreMiddleware, requestBodySizeLimitMiddleware(cfg.MaxBodySize))

		r.Post("/login", apierrors.ErrorHandler(routes.login))
		r.Get("/callback", apierrors.ErrorHandler(routes.callback))
		r.Get("/logout", apierrors.ErrorHandler(routes.logout))

		r.Group(func(r chi.Router) {
			r.Use(protected.Middleware)
			r.Get("/userinfo", apierrors.ErrorHandler(routes.userInfo))
			r.Get("/auth", routes.auth)
		})
	})

	return r
}

func noStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

type sessionRoutes struct {
	engine Engine
}

func (s *sessionRoutes) login(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return nil
	}

	req := relyingparty.LoginRequest{RedirectTo: r.Form.Get(redirectParam)}
	if c, err := r.Cookie(relyingparty.CookieName); err == nil {
		req.PreviousSessionID = c.Value
	}
	authURL, err := s.engine.Login(r.Context(), w, req)
	if err != nil {
		return err
	}
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

func (s *sessionRoutes) callback(w http.ResponseWriter, r *http.Request) error {
	target, err := s.engine.Callback(r.Context(), w, r)
	if err != nil {
		return err
	}
	http.Redirect(w, r, target, http.StatusFound)
	return nil
}

func (s *sessionRoutes) logout(w http.ResponseWriter, r *http.Request) error {
	target, err := s.engine.Logout(r.Context(), w, r)
	if err != nil {
		return err
	}
	http.Redirect(w, r, target, http.StatusFound)
	return nil
}

func (s *sessionRoutes) userInfo(w http.ResponseWriter, r *http.Request) error {
	sess, ok := gate.SessionFromContext(r.Context())
	if !ok {
		return rperrors.NewInternalError("userinfo reached without a session", nil)
	}

	claims, err := s.engine.UserInfo(r.Context(), w, sess)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(claims)
	return nil
}

func (*sessionRoutes) auth(w http.ResponseWriter, r *http.Request) {
	if sess, ok := gate.SessionFromContext(r.Context()); ok {
		if sub := sess.Subject(); sub != "" {
			w.Header().Set(HeaderAuthUser, sub)
		}
		if email := sess.Email(); email != "" {
			w.Header().Set(HeaderAuthEmail, email)
		}
	}
	w.WriteHeader(http.StatusAccepted)
}
