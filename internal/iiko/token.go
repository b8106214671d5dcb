// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package iiko

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/restokit/iikosync/internal/cache"
	"github.com/restokit/iikosync/internal/config"
	"github.com/restokit/iikosync/internal/logging"
	"github.com/restokit/iikosync/internal/metrics"
)

// tokenCacheKey is the key under which the bearer token lives in the
// shared TTL cache.
const tokenCacheKey = "iiko:auth:token"

// maxTokenBodySize bounds the auth response read. Tokens are short GUIDs;
// anything larger is a misconfigured endpoint returning an HTML page.
const maxTokenBodySize = 4 * 1024

// TokenProvider supplies a valid upstream bearer token and supports
// proactive eviction. The fetcher invalidates on HTTP 401 so the next
// attempt authenticates fresh.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenManager acquires tokens from the iiko query-string auth endpoint
// and caches them with a fixed TTL.
//
// Concurrency: the cache is safe for concurrent readers and writers with
// last-write-wins semantics. Concurrent cache misses may each issue an
// upstream auth call; the server tolerates overlapping sessions and the
// duplicate tokens simply overwrite each other in the cache.
type TokenManager struct {
	baseURL  string
	login    string
	password string
	ttl      time.Duration
	client   *http.Client
	tokens   *cache.Cache
}

// NewTokenManager creates a token manager backed by the given cache.
func NewTokenManager(cfg *config.IikoConfig, tokens *cache.Cache) *TokenManager {
	return &TokenManager{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		login:    cfg.Login,
		password: cfg.Password,
		ttl:      cfg.TokenTTL,
		client:   &http.Client{Timeout: cfg.Timeout},
		tokens:   tokens,
	}
}

// Token returns the cached token, acquiring a fresh one on a miss.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if v, ok := m.tokens.Get(tokenCacheKey); ok {
		if tok, sok := v.(string); sok && tok != "" {
			return tok, nil
		}
	}
	return m.refresh(ctx)
}

// Invalidate evicts the cached token. The next Token call authenticates
// against upstream again.
func (m *TokenManager) Invalidate() {
	m.tokens.Delete(tokenCacheKey)
	metrics.TokenInvalidations.Inc()
	logging.Debug().Msg("Cached iiko token invalidated")
}

// Logout releases the server-side session for the cached token, if any,
// then evicts it. Best effort: iiko expires idle sessions on its own, so
// a failed logout is logged and swallowed.
func (m *TokenManager) Logout(ctx context.Context) {
	v, ok := m.tokens.Get(tokenCacheKey)
	if !ok {
		return
	}
	tok, _ := v.(string)
	m.Invalidate()
	if tok == "" {
		return
	}

	logoutURL := fmt.Sprintf("%s/api/logout?key=%s", m.baseURL, url.QueryEscape(tok))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoutURL, http.NoBody)
	if err != nil {
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		logging.Warn().Err(err).Msg("iiko logout request failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	logging.Debug().Int("status", resp.StatusCode).Msg("iiko session released")
}

// refresh performs the upstream auth call and caches the result.
func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	if m.login == "" || m.password == "" {
		return "", &AuthError{Op: "login", Err: fmt.Errorf("iiko credentials not configured")}
	}

	params := url.Values{}
	params.Set("login", m.login)
	params.Set("pass", m.password)
	authURL := fmt.Sprintf("%s/api/auth?%s", m.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, http.NoBody)
	if err != nil {
		return "", &AuthError{Op: "login", Err: err}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &AuthError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &AuthError{Op: "login", Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodySize))
	if err != nil {
		return "", &AuthError{Op: "login", Err: fmt.Errorf("read auth response: %w", err)}
	}

	// The auth endpoint returns the bare token as the response body,
	// sometimes quoted.
	token := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if token == "" {
		return "", &AuthError{Op: "login", Err: fmt.Errorf("auth endpoint returned empty token")}
	}

	m.tokens.SetWithTTL(tokenCacheKey, token, m.ttl)
	metrics.TokenRefreshes.Inc()
	logging.Debug().Dur("ttl", m.ttl).Msg("Acquired fresh iiko token")

	return token, nil
}
