// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/rpgate/pkg/errors"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		handlerErr  error
		wantCode    int
		wantError   string
		wantDesc    string
		wantNoWrite bool
	}{
		{
			name:        "no error leaves response untouched",
			handlerErr:  nil,
			wantCode:    http.StatusTeapot,
			wantNoWrite: true,
		},
		{
			name:       "classified failure maps to 401 with its type",
			handlerErr: errors.NewSessionNotFoundError("session does not exist", nil),
			wantCode:   http.StatusUnauthorized,
			wantError:  errors.ErrSessionNotFound,
			wantDesc:   "session does not exist",
		},
		{
			name:       "wrapped classified failure keeps its type",
			handlerErr: fmt.Errorf("gate: %w", errors.NewRefreshFailureError("grant rejected", nil)),
			wantCode:   http.StatusUnauthorized,
			wantError:  errors.ErrRefreshFailure,
			wantDesc:   "grant rejected",
		},
		{
			name:       "unclassified failure maps to 500 without detail",
			handlerErr: stderrors.New("dial tcp 10.0.0.1:6379: connection refused"),
			wantCode:   http.StatusInternalServerError,
			wantError:  errors.ErrInternal,
			wantDesc:   http.StatusText(http.StatusInternalServerError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := ErrorHandler(func(w http.ResponseWriter, _ *http.Request) error {
				if tt.handlerErr == nil {
					w.WriteHeader(http.StatusTeapot)
				}
				return tt.handlerErr
			})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2/userinfo", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantNoWrite {
				assert.Empty(t, rec.Body.String())
				return
			}

			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantDesc, body.ErrorDescription)
			assert.NotContains(t, body.ErrorDescription, "connection refused")
		})
	}
}
