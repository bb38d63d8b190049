// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"

	"github.com/stacklok/rpgate/pkg/versions"
)

// DefaultServiceName is reported as service.name when none is configured.
const DefaultServiceName = "rpgate"

// DefaultSamplingRate samples 5% of traces.
const DefaultSamplingRate = 0.05

// Config holds the configuration for trace export.
type Config struct {
	// Endpoint is the OTLP/HTTP endpoint (host:port). Tracing is disabled when empty.
	Endpoint string

	// ServiceName is the service name for telemetry
	ServiceName string

	// ServiceVersion is the service version for telemetry
	ServiceVersion string

	// SamplingRate is the trace sampling rate (0.0-1.0)
	SamplingRate float64

	// Headers are sent with every export request, usually for authentication.
	Headers map[string]string

	// Insecure uses HTTP instead of HTTPS for the OTLP endpoint
	Insecure bool
}

// DefaultConfig returns a configuration with tracing disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    DefaultServiceName,
		ServiceVersion: versions.GetVersionInfo().Version,
		SamplingRate:   DefaultSamplingRate,
		Headers:        make(map[string]string),
	}
}

// Enabled reports whether spans are exported.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %v", c.SamplingRate)
	}
	if c.Enabled() && c.ServiceName == "" {
		return fmt.Errorf("service name is required when an OTLP endpoint is configured")
	}
	return nil
}
