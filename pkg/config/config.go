// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the rpgate configuration model and the logic to
// load, default and validate it.
//
// Configuration is read once at start from a YAML file. Secrets may instead
// come from the environment (RPGATE_CLIENT_SECRET, RPGATE_REDIS_PASSWORD),
// which takes precedence over the file.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a wrapper around time.Duration that marshals/unmarshals as a duration string.
// This ensures duration values are serialized as "30s", "1m", etc. instead of nanosecond integers.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the rpgate configuration.
type Config struct {
	// Issuer is the OpenID Provider's issuer URL, used for discovery.
	Issuer string `json:"issuer" yaml:"issuer"`

	// ClientID is the client registered at the provider.
	ClientID string `json:"clientId" yaml:"clientId"`

	// ClientAuth selects how the client authenticates at the token endpoint.
	ClientAuth ClientAuthConfig `json:"clientAuth" yaml:"clientAuth"`

	// Scopes requested at login. "openid" is always included.
	Scopes []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	// BaseURL is the externally visible origin of the gateway. The callback
	// URL registered at the provider is BaseURL + PathPrefix + "/callback".
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// PathPrefix is where the browser-facing routes are mounted.
	PathPrefix string `json:"pathPrefix,omitempty" yaml:"pathPrefix,omitempty"`

	// PostCallbackRedirectURL is where the browser lands after login when
	// the login carried no redirect target.
	PostCallbackRedirectURL string `json:"postCallbackRedirectUrl,omitempty" yaml:"postCallbackRedirectUrl,omitempty"`

	// PostLogoutRedirectURL is passed to the provider's end-session endpoint.
	PostLogoutRedirectURL string `json:"postLogoutRedirectUrl,omitempty" yaml:"postLogoutRedirectUrl,omitempty"`

	// LoginExpiration is the lifetime of a pending login. An explicit zero
	// keeps the default lifetime but issues a browser session cookie that is
	// never extended.
	LoginExpiration *Duration `json:"loginExpiration,omitempty" yaml:"loginExpiration,omitempty"`

	// RefreshExpiration is the lifetime of an active session.
	RefreshExpiration Duration `json:"refreshExpiration,omitempty" yaml:"refreshExpiration,omitempty"`

	// AutoRefresh runs the refresh grant when the ID token lapses. Defaults to true.
	AutoRefresh *bool `json:"autoRefresh,omitempty" yaml:"autoRefresh,omitempty"`

	Proxy   ProxyConfig   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Storage StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
	Server  ServerConfig  `json:"server,omitempty" yaml:"server,omitempty"`
	IdP     IdPConfig     `json:"idp,omitempty" yaml:"idp,omitempty"`

	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// ClientAuthConfig selects the token endpoint authentication method.
type ClientAuthConfig struct {
	// Type is one of none, client_secret_post, client_secret_jwt, private_key_jwt.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// ClientSecret is used by client_secret_post and client_secret_jwt.
	// RPGATE_CLIENT_SECRET overrides it.
	ClientSecret string `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`

	// PrivateKey is the path to a JWK file used by private_key_jwt.
	PrivateKey string `json:"privateKey,omitempty" yaml:"privateKey,omitempty"`

	// Alg is the assertion algorithm. Defaults to the JWK's alg, or HS256
	// for client_secret_jwt.
	Alg string `json:"alg,omitempty" yaml:"alg,omitempty"`
}

// ProxyConfig holds settings for running behind a reverse proxy.
type ProxyConfig struct {
	// WhitelistDomains lists the hosts allowed as post-login redirect targets:
	// an exact host, ".example.com" or "*.example.com", each optionally with ":port".
	WhitelistDomains []string `json:"whitelistDomains,omitempty" yaml:"whitelistDomains,omitempty"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	// Type is memory (default) or redis.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// KeyPrefix is prepended to session ids in Redis.
	KeyPrefix string `json:"keyPrefix,omitempty" yaml:"keyPrefix,omitempty"`

	Redis *RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis store. Exactly one of URL or Sentinel is set.
type RedisConfig struct {
	URL      string          `json:"url,omitempty" yaml:"url,omitempty"`
	Sentinel *SentinelConfig `json:"sentinel,omitempty" yaml:"sentinel,omitempty"`

	// Username authenticates against Redis ACLs.
	Username string `json:"username,omitempty" yaml:"username,omitempty"`

	// Password authenticates against Redis. RPGATE_REDIS_PASSWORD overrides it.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// DB selects the database of a Sentinel deployment.
	DB int `json:"db,omitempty" yaml:"db,omitempty"`

	DialTimeout  Duration `json:"dialTimeout,omitempty" yaml:"dialTimeout,omitempty"`
	ReadTimeout  Duration `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	WriteTimeout Duration `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName string   `json:"masterName" yaml:"masterName"`
	Addrs      []string `json:"addrs" yaml:"addrs"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Address is host:port, or unix:///path/to.sock.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	ReadHeaderTimeout Duration `json:"readHeaderTimeout,omitempty" yaml:"readHeaderTimeout,omitempty"`
	RequestTimeout    Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`
}

// IdPConfig configures the HTTP client used to reach the provider.
type IdPConfig struct {
	HTTPTimeout Duration `json:"httpTimeout,omitempty" yaml:"httpTimeout,omitempty"`

	// CABundle is a PEM file trusted in addition to the system roots.
	CABundle string `json:"caBundle,omitempty" yaml:"caBundle,omitempty"`

	// InsecureAllowHTTP permits a plain-HTTP issuer. For development only.
	InsecureAllowHTTP bool `json:"insecureAllowHttp,omitempty" yaml:"insecureAllowHttp,omitempty"`
}

// TelemetryConfig configures OTLP trace export. Tracing is off unless
// Endpoint is set.
type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector as host:port.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`

	// SamplingRate is the fraction of traces recorded, 0.0 to 1.0.
	SamplingRate *float64 `json:"samplingRate,omitempty" yaml:"samplingRate,omitempty"`

	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Insecure exports over plain HTTP.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`
}
