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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doAuth(s *Server, method, target, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestTokenAuth_Validate(t *testing.T) {
	a := NewTokenAuth("s3cret")

	info, err := a.Validate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "token", info.Subject)

	_, err = a.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Validate(context.Background(), "s3cre")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.header)
		assert.Equal(t, tt.want, got, tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
	}
}

func TestAuth_TokenRequired(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *Config, _ *Options) {
		cfg.Token = "s3cret"
	})

	assert.Equal(t, http.StatusOK, doAuth(s, http.MethodGet, "/v1/health", "").Code)

	w := doAuth(s, http.MethodGet, "/v1/passes", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[ErrorResponse](t, w).Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")

	assert.Equal(t, http.StatusUnauthorized, doAuth(s, http.MethodGet, "/v1/passes", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, doAuth(s, http.MethodGet, "/v1/reports", "Basic s3cret").Code)
	assert.Equal(t, http.StatusOK, doAuth(s, http.MethodGet, "/v1/passes", "Bearer s3cret").Code)
}

func TestAuth_OpenByDefault(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, doAuth(s, http.MethodGet, "/v1/passes", "").Code)
}

type roleAuth struct{}

func (roleAuth) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token != "ci" {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{Subject: "ci-runner"}, nil
}

func TestAuth_CustomProvider(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *Config, opts *Options) {
		cfg.Token = "ignored"
		opts.Auth = roleAuth{}
	})

	var seen string
	s.router.GET("/probe", authenticate(s.opts.Auth), func(c *gin.Context) {
		seen = GetAuthInfo(c).Subject
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusUnauthorized, doAuth(s, http.MethodGet, "/v1/passes", "Bearer ignored").Code)
	assert.Equal(t, http.StatusOK, doAuth(s, http.MethodGet, "/v1/passes", "Bearer ci").Code)
	assert.Equal(t, http.StatusNoContent, doAuth(s, http.MethodGet, "/probe", "Bearer ci").Code)
	assert.Equal(t, "ci-runner", seen)
}
