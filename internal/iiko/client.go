// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

/*
client.go - Core iiko server API client

HTTP communication layer for the iiko back-office (resto) API. All
report and export endpoints authenticate with a bearer token passed as
the "key" query parameter; the token itself comes from a TokenProvider.

Resilience mechanisms:
  - Circuit breaker: opens at a 60% failure rate over at least 10
    requests, 2 minute recovery timeout
  - Rate limiting: token bucket capped at the configured requests/sec
  - Retries: fixed delay between attempts, HTTP 401 invalidates the
    token and consumes one attempt
  - Context: all methods accept context for cancellation

Related files:
  - token.go: token acquisition and caching
  - olap.go: OLAP report requests (JSON)
  - documents.go: document export requests (XML)
  - entities.go: reference data lists
*/
package iiko

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/restokit/iikosync/internal/config"
	"github.com/restokit/iikosync/internal/logging"
	"github.com/restokit/iikosync/internal/metrics"
)

// maxErrorBodySize limits how much of an error response body is read
// for diagnostics.
const maxErrorBodySize = 64 * 1024

const breakerName = "iiko-api"

// httpStatusError marks a non-success upstream status so the retry loop
// can distinguish it from transport failures.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

// Client handles communication with the iiko server API.
//
// Thread safety: safe for concurrent use. Each request creates its own
// HTTP request; the limiter, breaker, and token provider are all
// concurrency safe.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	tokens     TokenProvider
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates an API client using the given token provider.
func NewClient(cfg *config.IikoConfig, tokens TokenProvider) *Client {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	// Fractional rates round down to a zero burst, which would block
	// every request; one token of burst is the floor.
	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		breaker:    breaker,
		tokens:     tokens,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// fetch performs an authenticated request against an API endpoint with
// bounded retries and a fixed delay between attempts.
//
// Attempt accounting: maxRetries bounds the total number of attempts.
// An HTTP 401 invalidates the cached token and consumes one attempt;
// the next attempt authenticates fresh. Any other non-success status or
// transport error waits retryDelay before the next attempt. After the
// last attempt the final error is returned as a FetchError. Auth
// failures surface as AuthError immediately since retrying cannot help.
func (c *Client) fetch(ctx context.Context, endpoint, method, path string, query url.Values, contentType string, payload []byte) ([]byte, error) {
	var lastErr error
	lastStatus := 0

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return nil, err
			}
			return nil, &AuthError{Op: "login", Err: err}
		}

		body, err := c.doOnce(ctx, method, path, query, token, contentType, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var statusErr *httpStatusError
		reason := "transport"
		if errors.As(err, &statusErr) {
			lastStatus = statusErr.status
			reason = "http_status"
			if statusErr.status == http.StatusUnauthorized {
				// Token expired server-side. Evict it so the next
				// attempt authenticates fresh, without the fixed delay.
				c.tokens.Invalidate()
				metrics.FetchRetries.WithLabelValues(endpoint, "unauthorized").Inc()
				logging.Warn().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Upstream returned 401, token invalidated")
				continue
			}
		}

		if attempt == c.maxRetries {
			break
		}

		metrics.FetchRetries.WithLabelValues(endpoint, reason).Inc()
		logging.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Dur("retry_delay", c.retryDelay).
			Msg("Upstream request failed, retrying")

		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	metrics.FetchFailures.WithLabelValues(endpoint).Inc()
	return nil, &FetchError{
		Endpoint: endpoint,
		Attempts: c.maxRetries,
		Status:   lastStatus,
		Err:      lastErr,
	}
}

// doOnce performs a single request attempt through the circuit breaker.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, token, contentType string, payload []byte) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", token)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())

	start := time.Now()
	defer metrics.ObserveFetch(path, start)

	return c.breaker.Execute(func() ([]byte, error) {
		var reqBody io.Reader = http.NoBody
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			return nil, &httpStatusError{
				status: resp.StatusCode,
				body:   strings.TrimSpace(string(errBody)),
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return body, nil
	})
}
