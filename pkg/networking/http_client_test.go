// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/rpgate/pkg/versions"
)

func TestNewHttpClientBuilder(t *testing.T) {
	t.Parallel()

	builder := NewHttpClientBuilder()

	assert.Equal(t, HttpTimeout, builder.clientTimeout)
	assert.Equal(t, 10*time.Second, builder.tlsHandshakeTimeout)
	assert.Equal(t, 10*time.Second, builder.responseHeaderTimeout)
	assert.Empty(t, builder.caCertPath)
	assert.False(t, builder.allowHTTP)
}

func TestHttpClientBuilder_Fluent(t *testing.T) {
	t.Parallel()

	builder := NewHttpClientBuilder()
	assert.Same(t, builder, builder.WithCABundle("/path/to/ca.crt"))
	assert.Same(t, builder, builder.WithInsecureHTTP(true))
	assert.Same(t, builder, builder.WithTimeout(5*time.Second))
	assert.Same(t, builder, builder.WithTimeout(0))

	assert.Equal(t, "/path/to/ca.crt", builder.caCertPath)
	assert.True(t, builder.allowHTTP)
	assert.Equal(t, 5*time.Second, builder.clientTimeout)
}

func TestHttpClientBuilder_Build(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		client, err := NewHttpClientBuilder().Build()
		require.NoError(t, err)
		assert.Equal(t, HttpTimeout, client.Timeout)
		assert.IsType(t, &ValidatingTransport{}, client.Transport)
	})

	t.Run("missing CA bundle", func(t *testing.T) {
		t.Parallel()

		_, err := NewHttpClientBuilder().WithCABundle(filepath.Join(t.TempDir(), "missing.pem")).Build()
		assert.ErrorContains(t, err, "failed to read CA certificate bundle")
	})

	t.Run("invalid CA bundle", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

		_, err := NewHttpClientBuilder().WithCABundle(path).Build()
		assert.ErrorContains(t, err, "failed to parse CA certificate bundle")
	})
}

func TestHttpClient_TrustsConfiguredCA(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, certPEM(t, server.TLS), 0o600))

	client, err := NewHttpClientBuilder().WithCABundle(path).Build()
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestValidatingTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	tests := []struct {
		name      string
		url       string
		allowHTTP bool
		wantErr   bool
	}{
		{"http to localhost is allowed", server.URL, false, false},
		{"http to remote host is rejected", "http://idp.example.com/token", false, true},
		{"http to remote host allowed explicitly", server.URL, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			transport := &ValidatingTransport{Transport: http.DefaultTransport, AllowHTTP: tt.allowHTTP}
			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			require.NoError(t, err)

			resp, err := transport.RoundTrip(req)
			if tt.wantErr {
				assert.ErrorContains(t, err, "not HTTPS")
				return
			}
			require.NoError(t, err)
			_ = resp.Body.Close()
		})
	}
}

func TestValidatingTransport_UserAgent(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	transport := &ValidatingTransport{Transport: http.DefaultTransport}

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Del("User-Agent")
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, versions.UserAgent(), <-agents)
	assert.Empty(t, req.Header.Get("User-Agent"), "caller's request is not mutated")

	req, err = http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err = transport.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "custom/1.0", <-agents)
}

func certPEM(t *testing.T, cfg *tls.Config) []byte {
	t.Helper()
	require.NotEmpty(t, cfg.Certificates)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cfg.Certificates[0].Certificate[0]})
}
