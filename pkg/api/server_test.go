// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeListener_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeListener(ctx, listener, ServerConfig{ShutdownTimeout: time.Second}, handler)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get("http://" + listener.Addr().String() + "/ping")
	assert.Error(t, err)
}

func TestServeListener_ReportsServeFailure(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	err = ServeListener(context.Background(), listener, ServerConfig{}, http.NotFoundHandler())
	assert.ErrorContains(t, err, "server stopped with error")
}

func TestListen_UnixSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "rp.sock")
	// a stale socket file from a previous run is replaced
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, nil, 0600))

	listener, err := Listen(unixSocketScheme + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(socketPermissions), info.Mode().Perm())
	assert.Equal(t, "unix", listener.Addr().Network())

	cleanupUnixSocket(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestServerConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{}.withDefaults()
	assert.Equal(t, DefaultAddress, cfg.Address)
	assert.Equal(t, DefaultReadHeaderTimeout, cfg.ReadHeaderTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)

	rc := RouterConfig{PathPrefix: "/auth/"}.withDefaults()
	assert.Equal(t, "/auth", rc.PathPrefix)
	assert.Equal(t, DefaultRequestTimeout, rc.RequestTimeout)
	assert.Equal(t, DefaultMaxBodySize, rc.MaxBodySize)
}
