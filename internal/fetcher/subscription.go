// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

// FeedSource is the platform surface the subscription strategy needs.
type FeedSource interface {
	FollowFeed(ctx context.Context, limit int) ([]pixiv.Illust, error)
	UserIllusts(ctx context.Context, userID int64, since time.Time, limit int) ([]pixiv.Illust, error)
}

// perAuthorCap bounds recent works pulled per manually subscribed author.
const perAuthorCap = 3

// SubscriptionStrategy pulls the follow feed plus recent works from the
// manually configured author list.
type SubscriptionStrategy struct {
	platform FeedSource
	cfg      *config.FetcherConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewSubscriptionStrategy builds the subscription strategy.
func NewSubscriptionStrategy(platform FeedSource, cfg *config.FetcherConfig) *SubscriptionStrategy {
	return &SubscriptionStrategy{
		platform: platform,
		cfg:      cfg,
		log:      logging.Component("fetcher.subscription"),
		now:      time.Now,
	}
}

func (s *SubscriptionStrategy) Name() string {
	return store.SourceSubscription
}

// Produce returns feed works above the subscription threshold, then
// recent works from the configured author list deduplicated against the
// feed.
func (s *SubscriptionStrategy) Produce(ctx context.Context, _ *Profile) ([]pixiv.Illust, error) {
	limit := s.cfg.DiscoveryLimit
	if limit <= 0 {
		limit = 200
	}
	threshold := s.cfg.BookmarkThreshold.Subscription

	var out []pixiv.Illust
	seen := make(map[int64]bool)

	feed, err := s.platform.FollowFeed(ctx, limit)
	if err != nil {
		s.log.Warn().Err(err).Msg("follow feed failed")
	}
	for _, w := range feed {
		if w.Bookmarks >= threshold && !seen[w.ID] {
			seen[w.ID] = true
			out = append(out, w)
		}
	}

	since := s.now().AddDate(0, 0, -s.cfg.DateRangeDays)
	for _, artistID := range s.cfg.SubscribedArtists {
		if ctx.Err() != nil {
			break
		}
		works, err := s.platform.UserIllusts(ctx, artistID, since, perAuthorCap)
		if err != nil {
			s.log.Warn().Int64("artist_id", artistID).Err(err).Msg("author pull failed")
			continue
		}
		for _, w := range works {
			if !seen[w.ID] {
				seen[w.ID] = true
				out = append(out, w)
			}
		}
	}

	if len(out) == 0 && err != nil {
		// Nothing succeeded; surface the feed error.
		return nil, err
	}
	return out, nil
}
