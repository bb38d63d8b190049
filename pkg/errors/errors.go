// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed failures produced by the session engine
// and the token codec, and their mapping onto HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrMissingSession is returned when the request carries no session cookie
	ErrMissingSession = "missing_session"

	// ErrSessionNotFound is returned when the session is absent or past its expiry
	ErrSessionNotFound = "session_not_found"

	// ErrSessionExpired is returned when the id token lapsed and no refresh is possible
	ErrSessionExpired = "session_expired"

	// ErrInvalidState is returned when the session payload does not fit the transition
	ErrInvalidState = "invalid_state"

	// ErrMalformedToken is returned when a token cannot be parsed or lacks required claims
	ErrMalformedToken = "malformed_token"

	// ErrSignatureInvalid is returned when a token signature or algorithm does not match
	ErrSignatureInvalid = "signature_invalid"

	// ErrNotYetValid is returned when a token nbf lies in the future
	ErrNotYetValid = "not_yet_valid"

	// ErrExpired is returned when a token exp lies in the past
	ErrExpired = "expired"

	// ErrUnsupportedAlgorithm is returned for an unknown signing algorithm
	ErrUnsupportedAlgorithm = "unsupported_algorithm"

	// ErrInvalidKey is returned when a key cannot be used with the requested algorithm
	ErrInvalidKey = "invalid_key"

	// ErrIdPExchangeFailure is returned when the identity provider rejects an authorization code
	ErrIdPExchangeFailure = "idp_exchange_failure"

	// ErrRefreshFailure is returned when the identity provider rejects a refresh grant
	ErrRefreshFailure = "refresh_failure"

	// ErrSessionUpdateFailed is returned when issued tokens cannot form an active session
	ErrSessionUpdateFailed = "session_update_failed"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// unauthenticated lists the error types that mean "the caller has no valid
// session". Everything else is an internal error.
var unauthenticated = map[string]bool{
	ErrMissingSession:       true,
	ErrSessionNotFound:      true,
	ErrSessionExpired:       true,
	ErrInvalidState:         true,
	ErrMalformedToken:       true,
	ErrSignatureInvalid:     true,
	ErrNotYetValid:          true,
	ErrExpired:              true,
	ErrIdPExchangeFailure:   true,
	ErrRefreshFailure:       true,
	ErrSessionUpdateFailed:  true,
	ErrUnsupportedAlgorithm: true,
}

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type. It lets callers
// match on type with errors.Is(err, &Error{Type: ErrExpired}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Message == ""
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewMissingSessionError creates a new missing session error
func NewMissingSessionError(message string, cause error) *Error {
	return NewError(ErrMissingSession, message, cause)
}

// NewSessionNotFoundError creates a new session not found error
func NewSessionNotFoundError(message string, cause error) *Error {
	return NewError(ErrSessionNotFound, message, cause)
}

// NewSessionExpiredError creates a new session expired error
func NewSessionExpiredError(message string, cause error) *Error {
	return NewError(ErrSessionExpired, message, cause)
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(message string, cause error) *Error {
	return NewError(ErrInvalidState, message, cause)
}

// NewMalformedTokenError creates a new malformed token error
func NewMalformedTokenError(message string, cause error) *Error {
	return NewError(ErrMalformedToken, message, cause)
}

// NewSignatureInvalidError creates a new signature invalid error
func NewSignatureInvalidError(message string, cause error) *Error {
	return NewError(ErrSignatureInvalid, message, cause)
}

// NewNotYetValidError creates a new not yet valid error
func NewNotYetValidError(message string, cause error) *Error {
	return NewError(ErrNotYetValid, message, cause)
}

// NewExpiredError creates a new expired error
func NewExpiredError(message string, cause error) *Error {
	return NewError(ErrExpired, message, cause)
}

// NewUnsupportedAlgorithmError creates a new unsupported algorithm error
func NewUnsupportedAlgorithmError(message string, cause error) *Error {
	return NewError(ErrUnsupportedAlgorithm, message, cause)
}

// NewInvalidKeyError creates a new invalid key error
func NewInvalidKeyError(message string, cause error) *Error {
	return NewError(ErrInvalidKey, message, cause)
}

// NewIdPExchangeFailureError creates a new code exchange failure error
func NewIdPExchangeFailureError(message string, cause error) *Error {
	return NewError(ErrIdPExchangeFailure, message, cause)
}

// NewRefreshFailureError creates a new refresh failure error
func NewRefreshFailureError(message string, cause error) *Error {
	return NewError(ErrRefreshFailure, message, cause)
}

// NewSessionUpdateFailedError creates a new session update failure error
func NewSessionUpdateFailedError(message string, cause error) *Error {
	return NewError(ErrSessionUpdateFailed, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// TypeOf returns the type of the outermost *Error in err's chain, or
// ErrInternal when there is none.
func TypeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrInternal
}

// MessageOf returns the message of the outermost *Error in err's chain, or
// an empty string when there is none.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// IsType checks if the error is of the given type
func IsType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsMissingSession checks if the error is a missing session error
func IsMissingSession(err error) bool {
	return IsType(err, ErrMissingSession)
}

// IsSessionNotFound checks if the error is a session not found error
func IsSessionNotFound(err error) bool {
	return IsType(err, ErrSessionNotFound)
}

// IsInvalidState checks if the error is an invalid state error
func IsInvalidState(err error) bool {
	return IsType(err, ErrInvalidState)
}

// IsRefreshFailure checks if the error is a refresh failure error
func IsRefreshFailure(err error) bool {
	return IsType(err, ErrRefreshFailure)
}

// IsUnauthenticated reports whether err classifies as "no valid session"
// rather than an internal failure.
func IsUnauthenticated(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return unauthenticated[e.Type]
}

// Code maps err onto the HTTP status the gateway answers with.
func Code(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if IsUnauthenticated(err) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
