// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package pixiv

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// imageReferer satisfies the CDN's hotlink check.
const imageReferer = "https://app-api.pixiv.net/"

// maxImageBytes caps a single download; originals above this are useless
// to the notifiers anyway.
const maxImageBytes = 64 << 20

// DownloadImage fetches image bytes through the bounded download
// semaphore. No circuit breaker: CDN hiccups say nothing about API health.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	if err := c.downloads.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.downloads.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Referer", imageReferer)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return nil, &TransientNetworkError{Err: fmt.Errorf("download status %d", resp.StatusCode)}
	default:
		return nil, &UpstreamContractError{Detail: fmt.Sprintf("download status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	return body, nil
}
