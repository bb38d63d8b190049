// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry builds the OpenTelemetry tracer provider that exports
// the spans recorded around session transitions and identity provider calls.
package telemetry
