// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package pixiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
)

const (
	defaultAppAPIBase = "https://app-api.pixiv.net"
	defaultAuthBase   = "https://oauth.secure.pixiv.net"

	// Mobile app credentials, required by the app-API OAuth flow.
	clientID     = "MOBrBDS8blbauoSck0ZfDbtuzpyT"
	clientSecret = "lsACyCD94FhDUtGTXi3QzcFE2uU1hqtDaKeqrdwj"
	hashSalt     = "28c1fdd170a5204386cb1313c7077b34f83e4aaf4aa829ce78c231e05b0bae2c"

	userAgent = "PixivAndroidApp/5.0.234 (Android 11; Pixel 5)"

	maxAttempts    = 3
	initialBackoff = 2 * time.Second
	requestTimeout = 30 * time.Second
)

// Client is the concrete app-API client. Every request passes a
// token-bucket limiter with random jitter, bounded retries with
// exponential backoff, and a circuit breaker around the transport.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	limiter    *rate.Limiter
	downloads  *semaphore.Weighted
	log        zerolog.Logger

	appAPIBase string
	authBase   string

	jitterMin float64
	jitterMax float64

	auth *authState
}

// Option overrides client internals, used by tests to point at fakes.
type Option func(*Client)

// WithBaseURLs redirects both API hosts.
func WithBaseURLs(appAPI, auth string) Option {
	return func(c *Client) {
		c.appAPIBase = appAPI
		c.authBase = auth
	}
}

// WithHTTPClient substitutes the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient builds a client from the pixiv and network config sections.
func NewClient(pixivCfg *config.PixivConfig, netCfg *config.NetworkConfig, opts ...Option) *Client {
	perMinute := netCfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	jitterMin, jitterMax := 1.0, 3.0
	if len(netCfg.RandomDelay) == 2 {
		jitterMin, jitterMax = netCfg.RandomDelay[0], netCfg.RandomDelay[1]
	}
	maxConcurrency := netCfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}

	log := logging.Component("pixiv")

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "pixiv-api",
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
			log.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			// Rate limits and auth failures say nothing about platform
			// health; only transport-level failures count against it.
			var transient *TransientNetworkError
			return err == nil || !errors.As(err, &transient)
		},
	})

	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		downloads:  semaphore.NewWeighted(int64(maxConcurrency)),
		log:        log,
		appAPIBase: defaultAppAPIBase,
		authBase:   defaultAuthBase,
		jitterMin:  jitterMin,
		jitterMax:  jitterMax,
		auth: &authState{
			refreshToken: pixivCfg.RefreshToken,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// acquire waits on the token bucket and adds the random jitter delay.
func (c *Client) acquire(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	span := c.jitterMax - c.jitterMin
	delay := time.Duration((c.jitterMin + rand.Float64()*span) * float64(time.Second))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// get performs an authenticated GET against the app API, retrying
// transient failures and honoring Retry-After on rate limits.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, endpoint, http.MethodGet, path, query, nil)
}

// post performs an authenticated form POST against the app API.
func (c *Client) post(ctx context.Context, endpoint, path string, form url.Values) ([]byte, error) {
	return c.do(ctx, endpoint, http.MethodPost, path, nil, form)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query, form url.Values) ([]byte, error) {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}

		token, err := c.accessToken(ctx)
		if err != nil {
			metrics.PlatformRequests.WithLabelValues(endpoint, "auth").Inc()
			return nil, err
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.roundTrip(ctx, method, path, query, form, token)
		})
		if err == nil {
			metrics.PlatformRequests.WithLabelValues(endpoint, "ok").Inc()
			return body, nil
		}
		lastErr = err

		var authErr *AuthError
		if errors.As(err, &authErr) {
			// One forced refresh, then give up.
			if attempt == 1 && c.auth.invalidate(token) {
				metrics.PlatformRequests.WithLabelValues(endpoint, "auth").Inc()
				continue
			}
			metrics.PlatformRequests.WithLabelValues(endpoint, "auth").Inc()
			return nil, err
		}

		var rateErr *RateLimitError
		if errors.As(err, &rateErr) {
			metrics.PlatformRequests.WithLabelValues(endpoint, "rate_limited").Inc()
			wait := rateErr.RetryAfter
			if wait <= 0 {
				wait = backoff
			}
			c.log.Warn().Str("endpoint", endpoint).Dur("wait", wait).Msg("rate limited")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		var transient *TransientNetworkError
		if errors.As(err, &transient) {
			metrics.PlatformRequests.WithLabelValues(endpoint, "error").Inc()
			c.log.Warn().Str("endpoint", endpoint).Int("attempt", attempt).Err(err).
				Msg("transient platform error")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		metrics.PlatformRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	return nil, lastErr
}

// roundTrip performs a single HTTP exchange and maps the status code to
// the error kinds.
func (c *Client) roundTrip(ctx context.Context, method, path string, query, form url.Values, token string) ([]byte, error) {
	fullURL := c.appAPIBase + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var req *http.Request
	var err error
	if form != nil {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return nil, &TransientNetworkError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return nil, &UpstreamContractError{Detail: fmt.Sprintf("status %d: %.200s", resp.StatusCode, body)}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

