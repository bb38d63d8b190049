// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package relyingparty

import (
	"net"
	"net/url"
	"strings"
)

// RedirectAllowed reports whether target may be used as a post-login
// redirect. Relative paths on this host are always allowed. Absolute http(s)
// URLs must match a whitelist entry: an exact host, or ".example.com" /
// "*.example.com" for the domain and its subdomains, each with an optional
// ":port" that must then match too.
func RedirectAllowed(target string, whitelist []string) bool {
	if target == "" || strings.ContainsAny(target, "\\\t\r\n") {
		return false
	}
	if strings.HasPrefix(target, "/") {
		return !strings.HasPrefix(target, "//")
	}

	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()

	for _, entry := range whitelist {
		domain, entryPort := splitHostPort(strings.ToLower(strings.TrimSpace(entry)))
		if domain == "" || (entryPort != "" && entryPort != port) {
			continue
		}
		domain = strings.TrimPrefix(domain, "*")
		if strings.HasPrefix(domain, ".") {
			if host == domain[1:] || strings.HasSuffix(host, domain) {
				return true
			}
			continue
		}
		if host == domain {
			return true
		}
	}
	return false
}

func splitHostPort(entry string) (string, string) {
	if host, port, err := net.SplitHostPort(entry); err == nil {
		return host, port
	}
	return entry, ""
}
