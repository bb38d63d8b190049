// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrRefreshFailure,
				Message: "refresh grant rejected",
				Cause:   errors.New("invalid_grant"),
			},
			want: "refresh_failure: refresh grant rejected: invalid_grant",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrMissingSession,
				Message: "no session cookie",
			},
			want: "missing_session: no session cookie",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := NewInternalError("store unavailable", cause)
	assert.Same(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, NewInternalError("no cause", nil).Unwrap())
}

func TestError_IsMatchesType(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("verify id token: %w", NewExpiredError("token expired", nil))

	assert.ErrorIs(t, err, &Error{Type: ErrExpired})
	assert.NotErrorIs(t, err, &Error{Type: ErrNotYetValid})
	assert.NotErrorIs(t, err, &Error{Type: ErrExpired, Message: "other"})
}

func TestTypeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrSessionNotFound, TypeOf(NewSessionNotFoundError("gone", nil)))
	assert.Equal(t, ErrInternal, TypeOf(errors.New("plain")))
	assert.Equal(t, ErrInvalidState, TypeOf(fmt.Errorf("wrapped: %w", NewInvalidStateError("x", nil))))
}

func TestCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"missing session", NewMissingSessionError("x", nil), http.StatusUnauthorized},
		{"session not found", NewSessionNotFoundError("x", nil), http.StatusUnauthorized},
		{"session expired", NewSessionExpiredError("x", nil), http.StatusUnauthorized},
		{"invalid state", NewInvalidStateError("x", nil), http.StatusUnauthorized},
		{"malformed token", NewMalformedTokenError("x", nil), http.StatusUnauthorized},
		{"signature invalid", NewSignatureInvalidError("x", nil), http.StatusUnauthorized},
		{"not yet valid", NewNotYetValidError("x", nil), http.StatusUnauthorized},
		{"expired", NewExpiredError("x", nil), http.StatusUnauthorized},
		{"exchange failure", NewIdPExchangeFailureError("x", nil), http.StatusUnauthorized},
		{"refresh failure", NewRefreshFailureError("x", nil), http.StatusUnauthorized},
		{"update failed", NewSessionUpdateFailedError("x", nil), http.StatusUnauthorized},
		{"invalid key", NewInvalidKeyError("x", nil), http.StatusInternalServerError},
		{"internal", NewInternalError("x", nil), http.StatusInternalServerError},
		{"plain error", errors.New("connection refused"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("gate: %w", NewRefreshFailureError("x", nil)), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestErrorTypeCheckers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsMissingSession(NewMissingSessionError("x", nil)))
	assert.False(t, IsMissingSession(NewSessionNotFoundError("x", nil)))
	assert.True(t, IsSessionNotFound(NewSessionNotFoundError("x", nil)))
	assert.True(t, IsInvalidState(NewInvalidStateError("x", nil)))
	assert.True(t, IsRefreshFailure(NewRefreshFailureError("x", nil)))
	assert.False(t, IsRefreshFailure(errors.New("regular error")))
}
