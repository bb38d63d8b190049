// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/rpgate/pkg/logger"
)

type healthResponse struct {
	Status string `json:"status"`
}

// healthHandler reports 200 while the session store answers and 503 otherwise.
func healthHandler(health HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, healthResponse{Status: "ok"}
		if health != nil {
			if err := health.Health(r.Context()); err != nil {
				logger.Warnw("health check failed", "error", err)
				status, body = http.StatusServiceUnavailable, healthResponse{Status: "unavailable"}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
