// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the relying-party engine over HTTP.
//
// Browser-facing routes live under a configurable prefix (default /oauth2):
//
//	POST {prefix}/login     starts a login and redirects to the identity provider
//	GET  {prefix}/callback  completes the login and redirects to the application
//	GET  {prefix}/logout    ends the session and redirects to the end-session URL
//	GET  {prefix}/userinfo  returns the provider's claims for the session
//	GET  {prefix}/auth      answers 202 for a valid session, for reverse proxies
//
// /health and /metrics are served outside the prefix.
package api
