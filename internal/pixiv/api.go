// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package pixiv

import (
	"context"
	"time"
)

// API is the narrow surface the daemon consumes. Tests substitute fakes.
type API interface {
	// SearchIllusts runs a tag query, keeping works whose bookmark count
	// reaches threshold and whose creation date falls within the last
	// dateRangeDays days. Returns up to limit works, newest first.
	SearchIllusts(ctx context.Context, query string, threshold, dateRangeDays, limit int) ([]Illust, error)

	// UserIllusts returns an author's works created at or after since.
	UserIllusts(ctx context.Context, userID int64, since time.Time, limit int) ([]Illust, error)

	// FollowFeed returns the most recent works from followed authors.
	FollowFeed(ctx context.Context, limit int) ([]Illust, error)

	// Ranking pulls one ranking mode (day, week, month, ...).
	Ranking(ctx context.Context, mode string, limit int) ([]Illust, error)

	// Following lists the ids of users the given user follows.
	Following(ctx context.Context, userID int64) ([]int64, error)

	// UserBookmarks pages through a user's bookmarks with the given
	// restrict (public or private).
	UserBookmarks(ctx context.Context, userID int64, restrict string, limit int) ([]Illust, error)

	// AddBookmark bookmarks a work on the platform.
	AddBookmark(ctx context.Context, illustID int64, private bool) error

	// FollowUser follows an author on the platform.
	FollowUser(ctx context.Context, userID int64) error

	// DownloadImage fetches image bytes with the platform Referer set.
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}
