// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package relyingparty

import (
	"net/http"
	"time"
)

// CookieName is the name of the session cookie.
const CookieName = "session_id"

func sessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// setCookie writes the session cookie. Its expiry matches the record's so
// the browser never holds a cookie longer than the store holds the session.
func (e *Engine) setCookie(w http.ResponseWriter, id string, expiresAt time.Time) {
	c := baseCookie(id)
	if !e.opts.SessionCookie {
		c.Expires = expiresAt
	}
	http.SetCookie(w, c)
}

func clearCookie(w http.ResponseWriter) {
	c := baseCookie("")
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func baseCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}
