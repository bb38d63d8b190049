// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-core/env"
)

// Environment variables that override secrets from the file.
const (
	EnvClientSecret  = "RPGATE_CLIENT_SECRET"
	EnvRedisPassword = "RPGATE_REDIS_PASSWORD"
)

// Error message templates for consistent error formatting
const (
	errFileNotFound = "file not found or not accessible: %w"
	errFileRead     = "failed to read file: %w"
	errInvalidYAML  = "invalid YAML format: %w"
)

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, &env.OSReader{})
}

// LoadWithEnv is Load with a custom environment reader.
// This allows for dependency injection of environment variable access for testing.
func LoadWithEnv(path string, envReader env.Reader) (*Config, error) {
	cleanPath, err := validateFilePath(path)
	if err != nil {
		return nil, err
	}
	data, err := readFile(cleanPath)
	if err != nil {
		return nil, err
	}
	return Parse(data, envReader)
}

// Parse decodes a YAML document, applies environment overrides and
// defaults, and validates the result. Unknown fields are rejected.
func Parse(data []byte, envReader env.Reader) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf(errInvalidYAML, err)
	}

	cfg.applyEnv(envReader)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(envReader env.Reader) {
	if secret := envReader.Getenv(EnvClientSecret); secret != "" {
		c.ClientAuth.ClientSecret = secret
	}
	if password := envReader.Getenv(EnvRedisPassword); password != "" {
		if c.Storage.Redis == nil {
			c.Storage.Redis = &RedisConfig{}
		}
		c.Storage.Redis.Password = password
	}
}

// validateFilePath validates that a file path exists and is accessible.
// It also cleans the file path using filepath.Clean.
func validateFilePath(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	if _, err := os.Stat(cleanPath); err != nil {
		return "", fmt.Errorf(errFileNotFound, err)
	}

	return cleanPath, nil
}

// readFile reads the contents of a file and returns the data.
func readFile(path string) ([]byte, error) {
	// #nosec G304: File path is user-provided but should be validated by caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFileRead, err)
	}
	return data, nil
}
