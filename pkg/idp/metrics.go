// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokenRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "rpgate_idp_token_request_duration_ms",
	Help:    "Duration of token endpoint requests in milliseconds",
	Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
}, []string{"grant_type", "outcome"})

func observeRequest(grantType, outcome string, start time.Time) {
	tokenRequestDuration.WithLabelValues(grantType, outcome).Observe(float64(time.Since(start).Milliseconds()))
}
