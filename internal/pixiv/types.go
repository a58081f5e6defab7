// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package pixiv implements the app-API client for the illustration
// platform: auth refresh, search, feeds, rankings, bookmark and follow
// mutation, and image download.
package pixiv

import "time"

// Illust is one work as seen by the rest of the daemon. Tags are raw,
// as received from the platform.
type Illust struct {
	ID         int64
	Title      string
	ArtistID   int64
	ArtistName string
	Tags       []string
	Bookmarks  int
	Views      int
	PageCount  int
	ImageURLs  []string
	IsR18      bool
	IsAI       bool
	CreatedAt  time.Time

	// MatchScore is attached by the filter, in [0,1].
	MatchScore float64
	// DisplayTags is the post-normalization tag view for captions.
	DisplayTags []string
}

// CoverURL returns the first page image URL, "" for a broken record.
func (i *Illust) CoverURL() string {
	if len(i.ImageURLs) == 0 {
		return ""
	}
	return i.ImageURLs[0]
}

// Bookmark restrict values for UserBookmarks.
const (
	RestrictPublic  = "public"
	RestrictPrivate = "private"
)
