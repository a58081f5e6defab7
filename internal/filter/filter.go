// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package filter excludes, scores, and ranks candidate works before
// delivery. The pipeline order is load-bearing: hard excludes run before
// scoring so blacklisted works never influence quota passes.
package filter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
	"github.com/pixivpush/pixivpush/internal/pixiv"
)

// Moderation is the store surface the filter reads at tick start.
type Moderation interface {
	PushedAmong(ctx context.Context, ids []int64) (map[int64]bool, error)
	Blacklist(ctx context.Context, threshold int) ([]string, error)
	MutedTags(ctx context.Context, now time.Time) ([]string, error)
	BlockedArtists(ctx context.Context) ([]int64, error)
}

// TagNormalizer canonicalizes raw tags so candidate tags and profile
// keys live in the same space.
type TagNormalizer interface {
	Normalize(ctx context.Context, raw []string) ([]string, map[string]string, error)
}

// Filter applies the exclusion and ranking pipeline for one tick.
type Filter struct {
	store      Moderation
	norm       TagNormalizer
	cfg        *config.FilterConfig
	match      *config.MatchScoreConfig
	subscribed map[int64]bool
	now        func() time.Time
	log        zerolog.Logger
}

// New builds a Filter. subscribedArtists marks authors that earn the
// configured boost in the composite sort.
func New(st Moderation, norm TagNormalizer, cfg *config.FilterConfig, match *config.MatchScoreConfig, subscribedArtists []int64) *Filter {
	subscribed := make(map[int64]bool, len(subscribedArtists))
	for _, id := range subscribedArtists {
		subscribed[id] = true
	}
	return &Filter{
		store:      st,
		norm:       norm,
		cfg:        cfg,
		match:      match,
		subscribed: subscribed,
		now:        time.Now,
		log:        logging.Component("filter"),
	}
}

func drop(reason string) {
	metrics.CandidatesFiltered.WithLabelValues(reason).Inc()
}

// Apply runs the full pipeline: hard excludes, minimum age, match
// scoring, composite sort, per-author quota, daily limit. Returned works
// carry MatchScore and DisplayTags and are in final delivery order.
func (f *Filter) Apply(ctx context.Context, candidates []pixiv.Illust, profile map[string]float64) ([]pixiv.Illust, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(candidates))
	for _, w := range candidates {
		ids = append(ids, w.ID)
	}
	pushed, err := f.store.PushedAmong(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load push history: %w", err)
	}
	excluded, err := f.excludedTags(ctx)
	if err != nil {
		return nil, err
	}
	blockedList, err := f.store.BlockedArtists(ctx)
	if err != nil {
		return nil, fmt.Errorf("load blocked artists: %w", err)
	}
	blocked := make(map[int64]bool, len(blockedList))
	for _, id := range blockedList {
		blocked[id] = true
	}

	profileMax := 0.0
	for _, w := range profile {
		if w > profileMax {
			profileMax = w
		}
	}

	cutoff := f.now().AddDate(0, 0, -f.cfg.MinCreateDays)

	var kept []pixiv.Illust
	maxBookmarks := 0
	for _, w := range candidates {
		switch {
		case pushed[w.ID]:
			drop("pushed")
			continue
		case blocked[w.ArtistID]:
			drop("blocked_artist")
			continue
		case f.cfg.ExcludeAI && w.IsAI:
			drop("ai")
			continue
		case f.cfg.R18Mode == config.R18ModeSafe && w.IsR18:
			drop("r18")
			continue
		case f.cfg.R18Mode == config.R18ModeOnly && !w.IsR18:
			drop("not_r18")
			continue
		case f.cfg.MinCreateDays > 0 && w.CreatedAt.After(cutoff):
			drop("too_recent")
			continue
		}

		tags, _, err := f.norm.Normalize(ctx, w.Tags)
		if err != nil {
			return nil, fmt.Errorf("normalize work %d: %w", w.ID, err)
		}
		if hasAny(tags, excluded) {
			drop("excluded_tag")
			continue
		}

		w.DisplayTags = tags
		w.MatchScore = matchScore(tags, profile, profileMax)
		if w.MatchScore < f.match.MinThreshold {
			drop("low_score")
			continue
		}

		if w.Bookmarks > maxBookmarks {
			maxBookmarks = w.Bookmarks
		}
		kept = append(kept, w)
	}

	f.sortComposite(kept, maxBookmarks)

	// Greedy per-author quota over the sorted list.
	perAuthor := make(map[int64]int)
	out := kept[:0]
	for _, w := range kept {
		if perAuthor[w.ArtistID] >= f.cfg.MaxPerArtist {
			drop("author_quota")
			continue
		}
		perAuthor[w.ArtistID]++
		out = append(out, w)
	}

	if len(out) > f.cfg.DailyLimit {
		for range out[f.cfg.DailyLimit:] {
			drop("daily_limit")
		}
		out = out[:f.cfg.DailyLimit]
	}

	f.log.Info().Int("in", len(candidates)).Int("out", len(out)).Msg("filter complete")
	return out, nil
}

// excludedTags unions the static config blacklist, the dislike-driven
// blacklist, and unexpired mutes.
func (f *Filter) excludedTags(ctx context.Context) (map[string]bool, error) {
	excluded := make(map[string]bool)
	for _, tag := range f.cfg.BlacklistTags {
		excluded[tag] = true
	}
	learned, err := f.store.Blacklist(ctx, f.cfg.BlacklistThreshold)
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	for _, tag := range learned {
		excluded[tag] = true
	}
	muted, err := f.store.MutedTags(ctx, f.now())
	if err != nil {
		return nil, fmt.Errorf("load mutes: %w", err)
	}
	for _, tag := range muted {
		excluded[tag] = true
	}
	return excluded, nil
}

// matchScore averages the profile weight over the work's tags and
// normalizes against the profile maximum. 0 when no tag is in the
// profile, 1 when every tag sits at the profile peak.
func matchScore(tags []string, profile map[string]float64, profileMax float64) float64 {
	if len(tags) == 0 || profileMax <= 0 {
		return 0
	}
	var sum float64
	for _, t := range tags {
		sum += profile[t]
	}
	score := sum / float64(len(tags)) / profileMax
	if score > 1 {
		score = 1
	}
	return score
}

// sortComposite orders by alpha*score + (1-alpha)*popularity + boost,
// ties by bookmark count descending then id descending.
func (f *Filter) sortComposite(works []pixiv.Illust, maxBookmarks int) {
	alpha := f.match.WeightInSort
	key := func(w pixiv.Illust) float64 {
		pop := 0.0
		if maxBookmarks > 0 {
			pop = float64(w.Bookmarks) / float64(maxBookmarks)
		}
		k := alpha*w.MatchScore + (1-alpha)*pop
		if f.subscribed[w.ArtistID] {
			k += f.cfg.ArtistBoost
		}
		return k
	}
	sort.Slice(works, func(i, j int) bool {
		ki, kj := key(works[i]), key(works[j])
		if ki != kj {
			return ki > kj
		}
		if works[i].Bookmarks != works[j].Bookmarks {
			return works[i].Bookmarks > works[j].Bookmarks
		}
		return works[i].ID > works[j].ID
	})
}

func hasAny(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}
