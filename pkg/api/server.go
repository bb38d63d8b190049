// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stacklok/rpgate/pkg/logger"
)

const (
	// DefaultAddress is the listen address used when none is configured.
	DefaultAddress = ":4180"

	// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds the graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	unixSocketScheme  = "unix://"
	socketPermissions = 0660 // Socket file permissions (owner/group read-write)
)

// ServerConfig configures Serve.
type ServerConfig struct {
	// Address is a TCP host:port, or unix:///path/to.sock for a UNIX socket.
	Address string

	// ReadHeaderTimeout is passed to http.Server.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds the graceful shutdown once ctx is done.
	ShutdownTimeout time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

func setupUnixSocket(address string) (net.Listener, error) {
	// Remove the socket file if it already exists
	if _, err := os.Stat(address); err == nil {
		if err := os.Remove(address); err != nil {
			return nil, fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(address), 0750); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("failed to create UNIX socket listener: %w", err)
	}

	// Let the reverse proxy running as another user in the same group connect.
	if err := os.Chmod(address, socketPermissions); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return listener, nil
}

func cleanupUnixSocket(address string) {
	if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
		logger.Warnf("failed to remove socket file: %v", err)
	}
}

// Listen opens the listener described by address.
func Listen(address string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(address, unixSocketScheme); ok {
		return setupUnixSocket(path)
	}
	return net.Listen("tcp", address)
}

// Serve listens on cfg.Address and serves handler until ctx is done.
// It is assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, cfg ServerConfig, handler http.Handler) error {
	cfg = cfg.withDefaults()

	listener, err := Listen(cfg.Address)
	if err != nil {
		return err
	}
	if path, ok := strings.CutPrefix(cfg.Address, unixSocketScheme); ok {
		defer cleanupUnixSocket(path)
	}

	return ServeListener(ctx, listener, cfg, handler)
}

// ServeListener serves handler on listener until ctx is done, then shuts the
// server down within cfg.ShutdownTimeout.
func ServeListener(ctx context.Context, listener net.Listener, cfg ServerConfig, handler http.Handler) error {
	cfg = cfg.withDefaults()

	// Requests outlive the serve context so that shutdown can drain them.
	baseCtx := context.WithoutCancel(ctx)
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Infow("starting HTTP server", "address", listener.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(baseCtx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infow("HTTP server stopped")
	return nil
}
