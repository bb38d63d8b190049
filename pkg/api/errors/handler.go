// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides HTTP error handling utilities for the API.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/rpgate/pkg/errors"
	"github.com/stacklok/rpgate/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// Response is the JSON body written for failed requests.
type Response struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into appropriate HTTP responses.
//
// The decorator:
//   - Returns early if no error is returned (handler already wrote response)
//   - Extracts HTTP status code from the error using errors.Code()
//   - For 5xx errors: logs full error details, returns generic message to client
//   - For 401 errors: returns the error type and message to the client
//
// Usage:
//
//	r.Get("/userinfo", apierrors.ErrorHandler(routes.userInfo))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			WriteError(w, r, err)
		}
	}
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.Code(err)

	body := Response{Error: errors.TypeOf(err)}
	if code >= http.StatusInternalServerError {
		logger.Errorw("internal server error",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		body = Response{Error: errors.ErrInternal, ErrorDescription: http.StatusText(code)}
	} else {
		logger.Get().Debug("request rejected",
			"path", r.URL.Path,
			"type", body.Error,
			"error", err,
		)
		body.ErrorDescription = errors.MessageOf(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
