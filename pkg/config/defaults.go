// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"slices"
	"time"

	"dario.cat/mergo"

	"github.com/stacklok/rpgate/pkg/api"
	"github.com/stacklok/rpgate/pkg/idp"
	"github.com/stacklok/rpgate/pkg/networking"
	"github.com/stacklok/rpgate/pkg/relyingparty"
	"github.com/stacklok/rpgate/pkg/session"
)

const (
	defaultClientAuthType          = string(idp.AuthClientSecretPost)
	defaultPostCallbackRedirectURL = "/"
	defaultStorageType             = string(session.TypeMemory)
	defaultRedisDialTimeout        = 5 * time.Second
	defaultRedisReadTimeout        = 3 * time.Second
	defaultRedisWriteTimeout       = 3 * time.Second
)

// ApplyDefaults fills every unset field. Values already present are kept.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}

	if c.ClientAuth.Type == "" {
		c.ClientAuth.Type = defaultClientAuthType
	}
	if len(c.Scopes) == 0 {
		c.Scopes = slices.Clone(idp.DefaultScopes)
	} else if !slices.Contains(c.Scopes, "openid") {
		c.Scopes = append([]string{"openid"}, c.Scopes...)
	}
	if c.PathPrefix == "" {
		c.PathPrefix = api.DefaultPathPrefix
	}
	if c.PostCallbackRedirectURL == "" {
		c.PostCallbackRedirectURL = defaultPostCallbackRedirectURL
	}
	if c.RefreshExpiration == 0 {
		c.RefreshExpiration = Duration(relyingparty.DefaultRefreshExpiration)
	}
	if c.AutoRefresh == nil {
		autoRefresh := true
		c.AutoRefresh = &autoRefresh
	}

	if c.Storage.Type == "" {
		c.Storage.Type = defaultStorageType
	}
	// Only zero fields are filled; user-provided values are preserved.
	if c.Storage.Redis != nil {
		_ = mergo.Merge(c.Storage.Redis, defaultRedisConfig())
	}
	_ = mergo.Merge(&c.Server, defaultServerConfig())
	_ = mergo.Merge(&c.IdP, defaultIdPConfig())
}

func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		DialTimeout:  Duration(defaultRedisDialTimeout),
		ReadTimeout:  Duration(defaultRedisReadTimeout),
		WriteTimeout: Duration(defaultRedisWriteTimeout),
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:           api.DefaultAddress,
		ReadHeaderTimeout: Duration(api.DefaultReadHeaderTimeout),
		RequestTimeout:    Duration(api.DefaultRequestTimeout),
	}
}

func defaultIdPConfig() IdPConfig {
	return IdPConfig{
		HTTPTimeout: Duration(networking.HttpTimeout),
	}
}
