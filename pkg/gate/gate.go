// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gate resolves the caller's session before a protected handler runs.
//
// The gate is a pipeline of named stages. Each stage may enrich the request
// (typically its context) or stop the pipeline with an error, in which case
// the error is written as the response and the protected handler never runs.
package gate

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/stacklok/rpgate/pkg/api/errors"
	rperrors "github.com/stacklok/rpgate/pkg/errors"
	"github.com/stacklok/rpgate/pkg/logger"
	"github.com/stacklok/rpgate/pkg/relyingparty"
)

// StageResolveSession is the name of the stage added by New.
const StageResolveSession = "resolve-session"

// Stage is one step of the gate. It returns the request to hand to the next
// stage, or an error that ends the pipeline.
type Stage func(w http.ResponseWriter, r *http.Request) (*http.Request, error)

// SessionChecker resolves the session of a request.
type SessionChecker interface {
	Check(ctx context.Context, w http.ResponseWriter, r *http.Request) (*relyingparty.Session, error)
}

type namedStage struct {
	name string
	run  Stage
}

// Pipeline runs stages in order.
type Pipeline struct {
	stages []namedStage
	logger *slog.Logger
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{logger: logger.For("gate")}
}

// New returns a pipeline whose first stage resolves the session with checker.
func New(checker SessionChecker) *Pipeline {
	return NewPipeline().Append(StageResolveSession, ResolveSession(checker))
}

// Append adds a stage to the end of the pipeline.
func (p *Pipeline) Append(name string, s Stage) *Pipeline {
	p.stages = append(p.stages, namedStage{name: name, run: s})
	return p
}

// Run executes the stages and returns the enriched request, or the first error.
func (p *Pipeline) Run(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	for _, s := range p.stages {
		next, err := s.run(w, r)
		if err != nil {
			p.logger.Debug("gate stage failed",
				"stage", s.name,
				"path", r.URL.Path,
				"type", rperrors.TypeOf(err),
			)
			return nil, err
		}
		r = next
	}
	return r, nil
}

// Middleware runs the pipeline in front of next.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gated, err := p.Run(w, r)
		if err != nil {
			apierrors.WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, gated)
	})
}

// ResolveSession returns the stage that places the checked session in the
// request context.
func ResolveSession(checker SessionChecker) Stage {
	return func(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
		sess, err := checker.Check(r.Context(), w, r)
		if err != nil {
			return nil, err
		}
		return r.WithContext(WithSession(r.Context(), sess)), nil
	}
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *relyingparty.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session placed by ResolveSession.
func SessionFromContext(ctx context.Context) (*relyingparty.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*relyingparty.Session)
	return sess, ok && sess != nil
}
