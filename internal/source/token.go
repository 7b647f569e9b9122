// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/census/internal/logging"
	"github.com/tomtom215/census/internal/metrics"
)

const (
	// userAgent identifies this service to the upstream.
	userAgent = "Census-Sync/1.0"

	// csrfToken is the static form token the web login expects.
	csrfToken = "census-sync-service"

	// sessionCookie is the Play-framework session cookie the dashboard
	// issues on successful login. Its value is a JWT whose payload embeds
	// the API bearer token.
	sessionCookie = "PLAY_SESSION"

	// defaultTokenTTL applies when the session JWT carries no exp claim.
	defaultTokenTTL = 24 * time.Hour
)

// TokenCache acquires and caches the upstream bearer token.
//
// The sensor cloud has no client-credentials grant; the only token source is
// the web dashboard's login flow, which answers a successful form POST with
// a 303 redirect and a session cookie. The cookie value is a JWT whose
// payload carries the API access token and expiry.
//
// Tokens are refreshed proactively before expiry, never reactively after a
// 401, since reactive refresh risks duplicate side effects on the upstream.
// Concurrent per-location fetches share one cache safely under a single
// mutex; at most one login is in flight at a time.
type TokenCache struct {
	loginURL  string
	username  string
	password  string
	cacheFile string
	margin    time.Duration
	client    *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache creates a token cache from configuration.
// If a token cache file is configured and holds a still-valid token, it is
// loaded so restarts do not trigger a fresh login.
func NewTokenCache(cfg *Config) *TokenCache {
	t := &TokenCache{
		loginURL:  cfg.LoginURL,
		username:  cfg.Username,
		password:  cfg.Password,
		cacheFile: cfg.TokenCacheFile,
		margin:    cfg.RefreshMargin,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			// The login answers with a 303 redirect; following it would
			// discard the session cookie we need.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	t.loadFromFile()
	return t
}

// Token returns a valid bearer token, refreshing it first when the cached
// one is within the refresh margin of expiry.
func (t *TokenCache) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.valid(time.Now()) {
		return t.token, nil
	}
	if err := t.refresh(ctx); err != nil {
		return "", err
	}
	return t.token, nil
}

// ExpiresAt returns the cached token's expiry, or the zero time when no
// token has been acquired yet.
func (t *TokenCache) ExpiresAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiresAt
}

// valid reports whether the cached token is usable at the given instant.
// Caller must hold mu.
func (t *TokenCache) valid(now time.Time) bool {
	return t.token != "" && now.Before(t.expiresAt.Add(-t.margin))
}

// refresh performs the web login and replaces the cached token.
// Caller must hold mu.
func (t *TokenCache) refresh(ctx context.Context) error {
	err := t.login(ctx)
	metrics.RecordTokenRefresh(err)
	if err != nil {
		return err
	}

	metrics.SetTokenExpiry(t.expiresAt)
	t.saveToFile()

	logging.Info().
		Str("token", logging.RedactToken(t.token)).
		Time("expires_at", t.expiresAt).
		Msg("Source token refreshed")
	return nil
}

func (t *TokenCache) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("csrfToken", csrfToken)
	form.Set("username", t.username)
	form.Set("password", t.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		metrics.RecordSourceRequest("login", "error", time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: web login failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	metrics.RecordSourceRequest("login", statusLabel(resp.StatusCode), time.Since(start))

	// A successful login is a 303 redirect carrying the session cookie.
	// Any direct 200 is the login form served again, meaning the
	// credentials were rejected.
	if resp.StatusCode != http.StatusSeeOther {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: login returned HTTP %d", ErrUnavailable, resp.StatusCode)
		}
		return fmt.Errorf("%w: login returned HTTP %d", ErrUnauthorized, resp.StatusCode)
	}

	var raw string
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			raw = c.Value
			break
		}
	}
	if raw == "" {
		return fmt.Errorf("%w: no %s cookie in login response", ErrUnauthorized, sessionCookie)
	}

	token, expiresAt, err := extractToken(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	t.token = token
	t.expiresAt = expiresAt
	return nil
}

// extractToken pulls the API bearer token and its expiry out of the session
// JWT. The signature is not verified: the JWT is the dashboard's own session
// state, and this client only reads the embedded token and exp claim.
func extractToken(raw string) (string, time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", time.Time{}, fmt.Errorf("invalid session JWT: %w", err)
	}

	data, ok := claims["data"].(map[string]any)
	if !ok {
		return "", time.Time{}, fmt.Errorf("session JWT has no data claim")
	}
	token, ok := data["access_token"].(string)
	if !ok || token == "" {
		return "", time.Time{}, fmt.Errorf("session JWT has no access_token")
	}

	expiresAt := time.Now().Add(defaultTokenTTL)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	return token, expiresAt, nil
}

// cachedToken is the on-disk token cache format.
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// loadFromFile restores a previously cached token. Best effort: any failure
// just means a fresh login on first use.
func (t *TokenCache) loadFromFile() {
	if t.cacheFile == "" {
		return
	}
	data, err := os.ReadFile(t.cacheFile)
	if err != nil {
		return
	}
	var cached cachedToken
	if err := json.Unmarshal(data, &cached); err != nil {
		logging.Warn().Err(err).Str("path", t.cacheFile).Msg("Ignoring malformed token cache file")
		return
	}
	if cached.AccessToken == "" || !time.Now().Before(cached.ExpiresAt.Add(-t.margin)) {
		return
	}
	t.token = cached.AccessToken
	t.expiresAt = cached.ExpiresAt
	logging.Info().Time("expires_at", t.expiresAt).Msg("Loaded valid token from cache file")
}

// saveToFile persists the current token. Best effort; the file is written
// owner-only since it holds a live credential. Caller must hold mu.
func (t *TokenCache) saveToFile() {
	if t.cacheFile == "" {
		return
	}
	data, err := json.Marshal(cachedToken{AccessToken: t.token, ExpiresAt: t.expiresAt})
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to encode token cache")
		return
	}
	if err := os.WriteFile(t.cacheFile, data, 0o600); err != nil {
		logging.Warn().Err(err).Str("path", t.cacheFile).Msg("Failed to write token cache file")
	}
}
