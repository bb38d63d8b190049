// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	neturl "net/url"
	"slices"
	"strings"
	"time"

	"github.com/stacklok/rpgate/pkg/idp"
	"github.com/stacklok/rpgate/pkg/networking"
	"github.com/stacklok/rpgate/pkg/relyingparty"
	"github.com/stacklok/rpgate/pkg/session"
	"github.com/stacklok/rpgate/pkg/token"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var clientAuthTypes = []string{
	string(idp.AuthNone),
	string(idp.AuthClientSecretPost),
	string(idp.AuthClientSecretJWT),
	string(idp.AuthPrivateKeyJWT),
}

// Validate checks the configuration after defaults have been applied and
// reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Issuer == "" {
		add("issuer is required")
	} else if err := c.validateIssuer(); err != nil {
		errs = append(errs, err)
	}
	if c.ClientID == "" {
		add("clientId is required")
	}
	if err := validateAbsoluteURL("baseUrl", c.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if c.PostLogoutRedirectURL != "" {
		if err := validateAbsoluteURL("postLogoutRedirectUrl", c.PostLogoutRedirectURL); err != nil {
			errs = append(errs, err)
		}
	}
	if !strings.HasPrefix(c.PathPrefix, "/") {
		add("pathPrefix must start with /")
	}

	errs = append(errs, c.ClientAuth.validate()...)

	if c.LoginExpiration != nil && *c.LoginExpiration < 0 {
		add("loginExpiration must not be negative")
	}
	if time.Duration(c.RefreshExpiration) <= c.loginExpiration() {
		add("refreshExpiration must be longer than loginExpiration")
	}

	for _, d := range c.Proxy.WhitelistDomains {
		if strings.TrimLeft(d, "*.") == "" {
			add("proxy.whitelistDomains contains an empty entry %q", d)
		}
	}

	errs = append(errs, c.Storage.validate()...)

	if c.IdP.CABundle != "" {
		if _, err := validateFilePath(c.IdP.CABundle); err != nil {
			add("idp.caBundle: %w", err)
		}
	}

	if err := c.TelemetryConfig().Validate(); err != nil {
		add("telemetry: %w", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) validateIssuer() error {
	u, err := neturl.Parse(c.Issuer)
	if err != nil || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if c.IdP.InsecureAllowHTTP || networking.IsLocalhost(u.Host) {
			return nil
		}
		return fmt.Errorf("issuer must use https unless idp.insecureAllowHttp is set")
	default:
		return fmt.Errorf("issuer must use https")
	}
}

func validateAbsoluteURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := neturl.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%s must be an absolute http(s) URL", field)
	}
	return nil
}

func (a *ClientAuthConfig) validate() []error {
	var errs []error

	if !slices.Contains(clientAuthTypes, a.Type) {
		return []error{fmt.Errorf("clientAuth.type %q is not one of %s", a.Type, strings.Join(clientAuthTypes, ", "))}
	}

	switch idp.AuthMethod(a.Type) {
	case idp.AuthClientSecretPost, idp.AuthClientSecretJWT:
		if a.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("clientAuth.clientSecret (or %s) is required for %s", EnvClientSecret, a.Type))
		}
	case idp.AuthPrivateKeyJWT:
		if a.PrivateKey == "" {
			errs = append(errs, fmt.Errorf("clientAuth.privateKey is required for %s", a.Type))
		} else if _, err := validateFilePath(a.PrivateKey); err != nil {
			errs = append(errs, fmt.Errorf("clientAuth.privateKey: %w", err))
		}
	}

	if a.Alg != "" && !token.Supported(token.Algorithm(a.Alg)) {
		errs = append(errs, fmt.Errorf("clientAuth.alg %q is not supported", a.Alg))
	}
	return errs
}

func (s *StorageConfig) validate() []error {
	switch session.Type(s.Type) {
	case session.TypeMemory:
		return nil
	case session.TypeRedis:
	default:
		return []error{fmt.Errorf("storage.type %q is not one of memory, redis", s.Type)}
	}

	r := s.Redis
	if r == nil {
		return []error{fmt.Errorf("storage.redis is required for redis storage")}
	}

	var errs []error
	switch {
	case r.URL != "" && r.Sentinel != nil:
		errs = append(errs, fmt.Errorf("storage.redis.url and storage.redis.sentinel are mutually exclusive"))
	case r.URL == "" && r.Sentinel == nil:
		errs = append(errs, fmt.Errorf("storage.redis requires url or sentinel"))
	case r.Sentinel != nil:
		if r.Sentinel.MasterName == "" {
			errs = append(errs, fmt.Errorf("storage.redis.sentinel.masterName is required"))
		}
		if len(r.Sentinel.Addrs) == 0 {
			errs = append(errs, fmt.Errorf("storage.redis.sentinel.addrs is required"))
		}
	}
	return errs
}

// loginExpiration is the pending-session lifetime the engine will use.
func (c *Config) loginExpiration() time.Duration {
	if c.LoginExpiration == nil || *c.LoginExpiration == 0 {
		return relyingparty.DefaultLoginExpiration
	}
	return time.Duration(*c.LoginExpiration)
}
