// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import "time"

// Reaction actions.
const (
	ActionLike    = "like"
	ActionDislike = "dislike"
	ActionSkip    = "skip"
)

// Push sources, in attribution priority order.
const (
	SourceSubscription = "subscription"
	SourceSearch       = "search"
	SourceRanking      = "ranking"
)

// Cleaner error log statuses.
const (
	AIErrorPending  = "pending"
	AIErrorResolved = "resolved"
	AIErrorIgnored  = "ignored"
)

// TagWeight is one profile entry.
type TagWeight struct {
	Tag    string
	Weight float64
}

// Pair is an unordered co-occurrence pair; TagA < TagB lexicographically.
type Pair struct {
	TagA   string
	TagB   string
	Weight float64
}

// CleanEntry is a cached cleaner verdict for one raw tag. Filtered means the
// cleaner judged the tag meaningless.
type CleanEntry struct {
	Canonical string
	Filtered  bool
}

// BookmarkScan is one scanned bookmark, seeding profile rebuilds without
// re-hitting the platform.
type BookmarkScan struct {
	IllustID        int64
	OwnerID         int64
	Tags            []string
	IllustCreatedAt time.Time
	ScannedAt       time.Time
}

// AIErrorLog is one logged cleaner failure.
type AIErrorLog struct {
	ID        int64
	RawTags   []string
	Error     string
	Status    string
	CreatedAt time.Time
}

// AuthorCount is a (author, pushes) aggregation row.
type AuthorCount struct {
	ArtistID int64
	Count    int
}

// TagCount is a (tag, pushes) aggregation row.
type TagCount struct {
	Tag   string
	Count int
}

// PushStats aggregates recent push and reaction activity.
type PushStats struct {
	Days       int
	Pushed     int
	Liked      int
	Disliked   int
	TopAuthors []AuthorCount
	TopTags    []TagCount
}
