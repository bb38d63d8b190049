// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/stacklok/rpgate/pkg/api"
	"github.com/stacklok/rpgate/pkg/idp"
	"github.com/stacklok/rpgate/pkg/networking"
	"github.com/stacklok/rpgate/pkg/relyingparty"
	"github.com/stacklok/rpgate/pkg/session"
	"github.com/stacklok/rpgate/pkg/telemetry"
	"github.com/stacklok/rpgate/pkg/token"
)

// CallbackURL is the redirect URI registered at the provider.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.PathPrefix, "/") + "/callback"
}

// ProviderConfig builds the identity provider client configuration. It
// reads the private key file and builds the HTTP client.
func (c *Config) ProviderConfig() (idp.Config, error) {
	clientAuth, err := c.ClientAuth.build()
	if err != nil {
		return idp.Config{}, err
	}

	httpClient, err := networking.NewHttpClientBuilder().
		WithTimeout(time.Duration(c.IdP.HTTPTimeout)).
		WithCABundle(c.IdP.CABundle).
		WithInsecureHTTP(c.IdP.InsecureAllowHTTP).
		Build()
	if err != nil {
		return idp.Config{}, fmt.Errorf("failed to build identity provider HTTP client: %w", err)
	}

	return idp.Config{
		Issuer:                c.Issuer,
		ClientID:              c.ClientID,
		ClientAuth:            clientAuth,
		RedirectURL:           c.CallbackURL(),
		PostLogoutRedirectURL: c.PostLogoutRedirectURL,
		Scopes:                c.Scopes,
		HTTPClient:            httpClient,
	}, nil
}

func (a *ClientAuthConfig) build() (idp.ClientAuth, error) {
	auth := idp.ClientAuth{
		Method:       idp.AuthMethod(a.Type),
		ClientSecret: a.ClientSecret,
		Algorithm:    token.Algorithm(a.Alg),
	}

	if auth.Method == idp.AuthPrivateKeyJWT {
		data, err := readFile(a.PrivateKey)
		if err != nil {
			return idp.ClientAuth{}, fmt.Errorf("clientAuth.privateKey: %w", err)
		}
		key, err := token.ParseJWK(data)
		if err != nil {
			return idp.ClientAuth{}, fmt.Errorf("clientAuth.privateKey: %w", err)
		}
		auth.Key = key
	}

	if err := auth.Validate(); err != nil {
		return idp.ClientAuth{}, err
	}
	return auth, nil
}

// EngineOptions builds the session lifecycle options.
func (c *Config) EngineOptions() relyingparty.Options {
	opts := relyingparty.DefaultOptions()
	opts.LoginExpiration = c.loginExpiration()
	opts.SessionCookie = c.LoginExpiration != nil && *c.LoginExpiration == 0
	opts.RefreshExpiration = time.Duration(c.RefreshExpiration)
	if c.AutoRefresh != nil {
		opts.AutoRefresh = *c.AutoRefresh
	}
	opts.PostCallbackRedirectURL = c.PostCallbackRedirectURL
	opts.WhitelistDomains = c.Proxy.WhitelistDomains
	return opts
}

// StoreConfig builds the session store configuration.
func (c *Config) StoreConfig() session.Config {
	cfg := session.Config{Type: session.Type(c.Storage.Type)}

	if r := c.Storage.Redis; r != nil {
		redisCfg := &session.RedisConfig{
			URL:          r.URL,
			Username:     r.Username,
			Password:     r.Password,
			KeyPrefix:    c.Storage.KeyPrefix,
			DialTimeout:  time.Duration(r.DialTimeout),
			ReadTimeout:  time.Duration(r.ReadTimeout),
			WriteTimeout: time.Duration(r.WriteTimeout),
		}
		if r.Sentinel != nil {
			redisCfg.Sentinel = &session.SentinelConfig{
				MasterName:    r.Sentinel.MasterName,
				SentinelAddrs: r.Sentinel.Addrs,
				DB:            r.DB,
			}
		}
		cfg.Redis = redisCfg
	}
	return cfg
}

// RouterConfig builds the HTTP routing configuration.
func (c *Config) RouterConfig() api.RouterConfig {
	return api.RouterConfig{
		PathPrefix:     c.PathPrefix,
		RequestTimeout: time.Duration(c.Server.RequestTimeout),
	}
}

// ListenerConfig builds the HTTP listener configuration.
func (c *Config) ListenerConfig() api.ServerConfig {
	return api.ServerConfig{
		Address:           c.Server.Address,
		ReadHeaderTimeout: time.Duration(c.Server.ReadHeaderTimeout),
	}
}

// TelemetryConfig builds the trace export configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Endpoint = c.Telemetry.Endpoint
	cfg.Insecure = c.Telemetry.Insecure
	if c.Telemetry.ServiceName != "" {
		cfg.ServiceName = c.Telemetry.ServiceName
	}
	if c.Telemetry.SamplingRate != nil {
		cfg.SamplingRate = *c.Telemetry.SamplingRate
	}
	for k, v := range c.Telemetry.Headers {
		cfg.Headers[k] = v
	}
	return cfg
}
