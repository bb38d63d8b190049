// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/rpgate/pkg/api"
	"github.com/stacklok/rpgate/pkg/idp"
	"github.com/stacklok/rpgate/pkg/logger"
	"github.com/stacklok/rpgate/pkg/relyingparty"
	"github.com/stacklok/rpgate/pkg/session"
	"github.com/stacklok/rpgate/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// newServeCmd creates the serve command for starting the gateway
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the rpgate server",
		Long: `Start the rpgate server. The identity provider is discovered first, with
retries; the server only starts listening once discovery has succeeded.
The server shuts down gracefully on SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	providerCfg, err := cfg.ProviderConfig()
	if err != nil {
		return err
	}

	tracing, err := telemetry.NewProvider(ctx, cfg.TelemetryConfig())
	if err != nil {
		return fmt.Errorf("failed to create telemetry provider: %w", err)
	}
	tracing.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("failed to flush traces", "error", err)
		}
	}()
	tp := tracing.TracerProvider()

	logger.Infow("discovering identity provider", "issuer", cfg.Issuer)
	provider, err := idp.Discover(ctx, providerCfg, idp.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("identity provider discovery failed: %w", err)
	}

	store, err := session.NewStore(ctx, cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnw("failed to close session store", "error", err)
		}
	}()

	engine, err := relyingparty.NewEngine(store, provider, cfg.EngineOptions(),
		relyingparty.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("failed to create session engine: %w", err)
	}

	router := api.NewRouter(engine, store, cfg.RouterConfig())

	logger.Infow("rpgate ready",
		"storage", cfg.Storage.Type,
		"path_prefix", cfg.PathPrefix,
		"callback", cfg.CallbackURL(),
		"tracing", cfg.TelemetryConfig().Enabled(),
	)
	return api.Serve(ctx, cfg.ListenerConfig(), router)
}
