// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package pixiv

import (
	"context"
	"crypto/md5" //nolint:gosec // the platform's client hash requires MD5
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// authState holds the OAuth tokens. The access token is refreshed lazily
// shortly before expiry; a 401 forces one refresh via invalidate.
type authState struct {
	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiresAt    time.Time
}

// invalidate drops the given access token if it is still current, forcing
// the next accessToken call to refresh. Returns false when the token was
// already replaced by a concurrent refresh.
func (a *authState) invalidate(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken != token {
		return false
	}
	a.accessToken = ""
	a.expiresAt = time.Time{}
	return true
}

// accessToken returns a valid access token, refreshing when the current
// one is missing or within a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()

	if c.auth.accessToken != "" && time.Until(c.auth.expiresAt) > time.Minute {
		return c.auth.accessToken, nil
	}
	if c.auth.refreshToken == "" {
		return "", &AuthError{Msg: "no refresh token configured"}
	}

	token, expiresIn, err := c.refreshAuth(ctx, c.auth.refreshToken)
	if err != nil {
		return "", err
	}
	c.auth.accessToken = token
	c.auth.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	c.log.Info().Time("expires_at", c.auth.expiresAt).Msg("access token refreshed")
	return token, nil
}

type authResponse struct {
	Response struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	} `json:"response"`
}

// refreshAuth exchanges the refresh token for a fresh access token using
// the app OAuth endpoint with its client-time hash.
func (c *Client) refreshAuth(ctx context.Context, refreshToken string) (string, int, error) {
	clientTime := time.Now().UTC().Format("2006-01-02T15:04:05+00:00")
	sum := md5.Sum([]byte(clientTime + hashSalt)) //nolint:gosec

	form := url.Values{
		"client_id":      {clientID},
		"client_secret":  {clientSecret},
		"grant_type":     {"refresh_token"},
		"refresh_token":  {refreshToken},
		"include_policy": {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authBase+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Client-Time", clientTime)
	req.Header.Set("X-Client-Hash", hex.EncodeToString(sum[:]))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, &TransientNetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return "", 0, &AuthError{Msg: fmt.Sprintf("token refresh rejected: status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return "", 0, &TransientNetworkError{Err: fmt.Errorf("auth status %d", resp.StatusCode)}
	default:
		return "", 0, &UpstreamContractError{Detail: fmt.Sprintf("auth status %d", resp.StatusCode)}
	}

	var parsed authResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, &UpstreamContractError{Detail: "auth response: " + err.Error()}
	}
	if parsed.Response.AccessToken == "" {
		return "", 0, &UpstreamContractError{Detail: "auth response missing access token"}
	}
	if parsed.Response.ExpiresIn <= 0 {
		parsed.Response.ExpiresIn = 3600
	}
	return parsed.Response.AccessToken, parsed.Response.ExpiresIn, nil
}
