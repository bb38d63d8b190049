// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the rpgate command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/rpgate/pkg/config"
	"github.com/stacklok/rpgate/pkg/logger"
)

// NewRootCmd creates a new root command for the rpgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "rpgate",
		DisableAutoGenTag: true,
		Short:             "OpenID Connect relying-party session gateway",
		Long: `rpgate signs browsers in against an OpenID Connect provider and keeps their
sessions in memory or Redis. Reverse proxies ask it whether a request carries a
valid session through the /auth endpoint.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the rpgate configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// loadConfig reads the file named by --config.
func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		return nil, fmt.Errorf("no configuration file specified, use --config flag")
	}

	logger.Infof("Loading configuration from: %s", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	return cfg, nil
}

// newValidateCmd creates the validate command for checking configuration
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the rpgate configuration file for syntax and semantic errors.

This command checks:
- YAML syntax validity and unknown fields
- Required fields presence
- Client authentication material
- Session lifetimes and storage settings`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Building the provider configuration reads the key and CA files.
			if _, err := cfg.ProviderConfig(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Configuration is valid")
			_, _ = fmt.Fprintf(out, "  Issuer: %s\n", cfg.Issuer)
			_, _ = fmt.Fprintf(out, "  Client: %s (%s)\n", cfg.ClientID, cfg.ClientAuth.Type)
			_, _ = fmt.Fprintf(out, "  Callback: %s\n", cfg.CallbackURL())
			_, _ = fmt.Fprintf(out, "  Storage: %s\n", cfg.Storage.Type)
			return nil
		},
	}
}
