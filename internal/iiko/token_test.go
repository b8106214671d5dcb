// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package iiko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/restokit/iikosync/internal/cache"
	"github.com/restokit/iikosync/internal/config"
)

func testIikoConfig(serverURL string) *config.IikoConfig {
	return &config.IikoConfig{
		URL:        serverURL,
		Login:      "etl",
		Password:   "secret",
		TokenTTL:   30 * time.Minute,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		Timeout:    5 * time.Second,
		RateLimit:  100,
	}
}

func TestTokenAcquireAndCache(t *testing.T) {
	var authCalls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("login") != "etl" || r.URL.Query().Get("pass") != "secret" {
			t.Errorf("credentials not forwarded: %s", r.URL.RawQuery)
		}
		authCalls.Add(1)
		_, _ = w.Write([]byte("token-abc-123"))
	}))
	defer server.Close()

	mgr := NewTokenManager(testIikoConfig(server.URL), cache.New(time.Hour))

	for i := 0; i < 3; i++ {
		token, err := mgr.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if token != "token-abc-123" {
			t.Errorf("token = %q, want token-abc-123", token)
		}
	}

	if got := authCalls.Load(); got != 1 {
		t.Errorf("expected 1 upstream auth call for 3 Token calls, got %d", got)
	}
}

func TestTokenRefreshAfterInvalidate(t *testing.T) {
	var authCalls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := authCalls.Add(1)
		if n == 1 {
			_, _ = w.Write([]byte("token-one"))
			return
		}
		_, _ = w.Write([]byte("token-two"))
	}))
	defer server.Close()

	mgr := NewTokenManager(testIikoConfig(server.URL), cache.New(time.Hour))

	first, err := mgr.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	mgr.Invalidate()

	second, err := mgr.Token(context.Background())
	if err != nil {
		t.Fatalf("Token after invalidate failed: %v", err)
	}

	if first != "token-one" || second != "token-two" {
		t.Errorf("tokens = %q, %q; want token-one then token-two", first, second)
	}
	if got := authCalls.Load(); got != 2 {
		t.Errorf("expected 2 upstream auth calls, got %d", got)
	}
}

func TestTokenMissingCredentials(t *testing.T) {
	cfg := testIikoConfig("http://localhost:1")
	cfg.Login = ""

	mgr := NewTokenManager(cfg, cache.New(time.Hour))

	_, err := mgr.Token(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError for missing credentials, got %v", err)
	}
}

func TestTokenUpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-success status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "bad credentials", http.StatusForbidden)
			},
		},
		{
			name: "empty token body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("   "))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			mgr := NewTokenManager(testIikoConfig(server.URL), cache.New(time.Hour))

			_, err := mgr.Token(context.Background())
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthError, got %v", err)
			}
		})
	}
}

func TestLogoutReleasesSession(t *testing.T) {
	var logoutKey atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth":
			_, _ = w.Write([]byte("token-xyz"))
		case "/api/logout":
			logoutKey.Store(r.URL.Query().Get("key"))
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	tokens := cache.New(time.Hour)
	mgr := NewTokenManager(testIikoConfig(server.URL), tokens)

	if _, err := mgr.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	mgr.Logout(context.Background())

	if got, _ := logoutKey.Load().(string); got != "token-xyz" {
		t.Errorf("logout key = %q, want token-xyz", got)
	}
	if _, ok := tokens.Get(tokenCacheKey); ok {
		t.Error("expected cached token to be evicted after logout")
	}
}
