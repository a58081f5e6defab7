// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package pixiv

import (
	"fmt"
	"time"
)

// AuthError means credentials are invalid or expired beyond refresh.
// Fatal for the tick; surfaced to logs and the admin channel.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string {
	return "pixiv: auth: " + e.Msg
}

// RateLimitError is a 429 from the platform. RetryAfter is zero when the
// server supplied no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("pixiv: rate limited, retry after %s", e.RetryAfter)
	}
	return "pixiv: rate limited"
}

// TransientNetworkError wraps timeouts, connection resets, and 5xx
// responses. Retried with backoff up to the attempt budget.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("pixiv: transient: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// UpstreamContractError means the response shape was not what the client
// expects. The offending item is recorded and skipped.
type UpstreamContractError struct {
	Detail string
}

func (e *UpstreamContractError) Error() string {
	return "pixiv: unexpected response: " + e.Detail
}
