// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger holds the process-wide logger of rpgate.
//
// Output goes through toolhive-core/logging. Long-lived components take a
// *slog.Logger at construction, obtained with [For]; the package-level
// helpers are for the CLI and one-off messages.
package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

const (
	// EnvUnstructuredLogs selects plain text output unless set to false.
	EnvUnstructuredLogs = "UNSTRUCTURED_LOGS"

	// EnvLogLevel sets the minimum level: debug, info, warn or error.
	// The --debug flag takes precedence.
	EnvLogLevel = "RPGATE_LOG_LEVEL"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(logging.New())
}

// Get returns the process-wide logger.
func Get() *slog.Logger {
	return current.Load()
}

// For returns the process-wide logger tagged with a component attribute.
func For(component string) *slog.Logger {
	return Get().With("component", component)
}

// Set replaces the process-wide logger.
func Set(l *slog.Logger) {
	current.Store(l)
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) {
	Get().Debug(fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) {
	Get().Info(fmt.Sprintf(format, args...))
}

// Infow logs a message at info level with key/value pairs.
func Infow(msg string, keysAndValues ...any) {
	Get().Info(msg, keysAndValues...)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) {
	Get().Warn(fmt.Sprintf(format, args...))
}

// Warnw logs a message at warn level with key/value pairs.
func Warnw(msg string, keysAndValues ...any) {
	Get().Warn(msg, keysAndValues...)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) {
	Get().Error(fmt.Sprintf(format, args...))
}

// Errorw logs a message at error level with key/value pairs.
func Errorw(msg string, keysAndValues ...any) {
	Get().Error(msg, keysAndValues...)
}

// Initialize configures the process-wide logger from the environment and
// the viper "debug" key.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv is Initialize with an injected environment.
func InitializeWithEnv(envReader env.Reader) {
	level, levelErr := levelFromEnv(envReader)
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}

	opts := []logging.Option{logging.WithLevel(level)}
	if textOutput(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}
	current.Store(logging.New(opts...))

	if levelErr != nil {
		Warnw("ignoring invalid log level", "variable", EnvLogLevel, "error", levelErr)
	}
}

func textOutput(envReader env.Reader) bool {
	v, err := strconv.ParseBool(envReader.Getenv(EnvUnstructuredLogs))
	if err != nil {
		return true
	}
	return v
}

func levelFromEnv(envReader env.Reader) (slog.Level, error) {
	raw := strings.TrimSpace(envReader.Getenv(EnvLogLevel))
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
