// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authInfoKey = "hintpass_auth_info"

// AuthInfo identifies the caller of a request.
type AuthInfo struct {
	// Subject names the caller. Never empty.
	Subject string
}

// AuthProvider validates bearer tokens.
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate returns the caller's identity, or an error wrapping
	// ErrUnauthorized when token is not accepted.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuth accepts every request as "local".
type NopAuth struct{}

// Validate ignores token.
func (NopAuth) Validate(context.Context, string) (*AuthInfo, error) {
	return &AuthInfo{Subject: "local"}, nil
}

// TokenAuth accepts a single shared token.
type TokenAuth struct {
	token []byte
}

// NewTokenAuth returns a provider that accepts exactly token.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: []byte(token)}
}

// Validate compares token in constant time.
func (a *TokenAuth) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
		return nil, fmt.Errorf("%w: token rejected", ErrUnauthorized)
	}
	return &AuthInfo{Subject: "token"}, nil
}

// authenticate validates the Authorization header and stores the caller
// for downstream handlers.
func authenticate(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := bearerToken(c.GetHeader("Authorization"))
		info, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="hintpass"`)
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		c.Set(authInfoKey, info)
		c.Next()
	}
}

// GetAuthInfo returns the caller stored by the auth middleware, or nil.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*AuthInfo); ok {
			return info
		}
	}
	return nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
