// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package profiler builds the weighted taste profile from bookmarks and
// applies user reactions to it.
package profiler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

// Scanner is the platform surface the profiler needs.
type Scanner interface {
	UserBookmarks(ctx context.Context, userID int64, restrict string, limit int) ([]pixiv.Illust, error)
}

// TagNormalizer canonicalizes raw tags.
type TagNormalizer interface {
	Normalize(ctx context.Context, raw []string) ([]string, map[string]string, error)
}

// Profiler owns the taste profile. A single mutex serializes rebuilds
// against reaction application so a rebuild cannot erase in-flight deltas.
type Profiler struct {
	store    *store.Store
	platform Scanner
	norm     TagNormalizer
	cfg      *config.ProfilerConfig
	userID   int64
	log      zerolog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// New builds a Profiler for the configured platform user.
func New(st *store.Store, platform Scanner, norm TagNormalizer, cfg *config.ProfilerConfig, userID int64) *Profiler {
	return &Profiler{
		store:    st,
		platform: platform,
		norm:     norm,
		cfg:      cfg,
		userID:   userID,
		log:      logging.Component("profiler"),
		now:      time.Now,
	}
}

// scanStateKey is the sync cursor marking a completed bookmark scan.
func (p *Profiler) scanStateKey() string {
	return fmt.Sprintf("xp_scan:%d", p.userID)
}

const scanComplete = "complete"

// decay returns the freshness prior for a bookmark of the given age.
func (p *Profiler) decay(age time.Duration) float64 {
	decayDays := p.cfg.DecayDays
	if decayDays <= 0 {
		decayDays = 180
	}
	ageDays := age.Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / decayDays)
}

// Build rebuilds the full profile: loads the bookmark corpus (cached scans
// when the cursor marks a completed sync, otherwise a fresh platform
// scan), normalizes tags, aggregates decayed per-tag and pair weights,
// normalizes the profile to max 1.0, and atomically replaces both tables.
func (p *Profiler) Build(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	scans, err := p.loadCorpus(ctx)
	if err != nil {
		return err
	}
	if len(scans) == 0 {
		p.log.Warn().Msg("no bookmarks found, profile left empty")
		if err := p.store.ReplaceProfile(ctx, map[string]float64{}); err != nil {
			return err
		}
		return p.store.ReplacePairs(ctx, nil)
	}

	now := p.now()
	weights := make(map[string]float64)
	pairWeights := make(map[[2]string]float64)

	for _, scan := range scans {
		tags, mapping, err := p.norm.Normalize(ctx, scan.Tags)
		if err != nil {
			return fmt.Errorf("normalize bookmark %d: %w", scan.IllustID, err)
		}
		if len(mapping) > 0 {
			if err := p.store.BumpRawMapping(ctx, mapping); err != nil {
				p.log.Warn().Err(err).Msg("failed to bump raw mapping stats")
			}
		}
		if len(tags) == 0 {
			continue
		}

		ref := scan.IllustCreatedAt
		if ref.IsZero() {
			ref = scan.ScannedAt
		}
		d := p.decay(now.Sub(ref))

		for _, tag := range tags {
			weights[tag] += d
		}
		for _, pair := range unorderedPairs(tags) {
			pairWeights[pair] += d
		}
	}

	normalizeToUnitMax(weights)

	pairs := make([]store.Pair, 0, len(pairWeights))
	for key, w := range pairWeights {
		pairs = append(pairs, store.Pair{TagA: key[0], TagB: key[1], Weight: w})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Weight != pairs[j].Weight {
			return pairs[i].Weight > pairs[j].Weight
		}
		if pairs[i].TagA != pairs[j].TagA {
			return pairs[i].TagA < pairs[j].TagA
		}
		return pairs[i].TagB < pairs[j].TagB
	})

	if err := p.store.ReplaceProfile(ctx, weights); err != nil {
		return err
	}
	if err := p.store.ReplacePairs(ctx, pairs); err != nil {
		return err
	}

	p.log.Info().Int("bookmarks", len(scans)).Int("tags", len(weights)).
		Int("pairs", len(pairs)).Msg("profile rebuilt")
	return nil
}

// loadCorpus returns the bookmark scans, hitting the platform only when
// the sync cursor does not mark a completed scan.
func (p *Profiler) loadCorpus(ctx context.Context) ([]store.BookmarkScan, error) {
	state, err := p.store.GetState(ctx, p.scanStateKey())
	if err != nil {
		return nil, err
	}
	if state == scanComplete {
		return p.store.BookmarkScans(ctx, p.userID)
	}

	limit := p.cfg.ScanLimit
	if limit <= 0 {
		limit = 500
	}

	works, err := p.platform.UserBookmarks(ctx, p.userID, pixiv.RestrictPublic, limit)
	if err != nil {
		return nil, fmt.Errorf("scan public bookmarks: %w", err)
	}
	if p.cfg.IncludePrivate && len(works) < limit {
		private, err := p.platform.UserBookmarks(ctx, p.userID, pixiv.RestrictPrivate, limit-len(works))
		if err != nil {
			// Private scan failure degrades to public-only.
			p.log.Warn().Err(err).Msg("private bookmark scan failed")
		} else {
			works = append(works, private...)
		}
	}

	scans := make([]store.BookmarkScan, 0, len(works))
	for _, w := range works {
		scans = append(scans, store.BookmarkScan{
			IllustID:        w.ID,
			OwnerID:         p.userID,
			Tags:            w.Tags,
			IllustCreatedAt: w.CreatedAt,
		})
	}
	if len(scans) > 0 {
		if err := p.store.SaveBookmarkScans(ctx, p.userID, scans); err != nil {
			return nil, err
		}
	}
	if err := p.store.SetState(ctx, p.scanStateKey(), scanComplete); err != nil {
		return nil, err
	}
	return p.store.BookmarkScans(ctx, p.userID)
}

// TopN returns the heaviest profile tags, weight desc then tag asc.
func (p *Profiler) TopN(ctx context.Context) ([]store.TagWeight, error) {
	topN := p.cfg.TopN
	if topN <= 0 {
		topN = 20
	}
	return p.store.TopTags(ctx, topN)
}

// ApplyReaction records the reaction and adjusts weights. For dislikes the
// work's most distinctive tag additionally increments the blacklist
// counter; the new count is returned for it (0 otherwise). Weight deltas
// use the cached tag list; an uncached work only records the reaction.
func (p *Profiler) ApplyReaction(ctx context.Context, illustID int64, action string) (string, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.RecordReaction(ctx, illustID, action); err != nil {
		return "", 0, err
	}
	metrics.Reactions.WithLabelValues(action).Inc()

	if action == store.ActionSkip {
		return "", 0, nil
	}

	rawTags, ok, err := p.store.CachedTags(ctx, illustID)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		p.log.Warn().Int64("illust_id", illustID).Msg("reaction on uncached work, no weight change")
		return "", 0, nil
	}

	tags, _, err := p.norm.Normalize(ctx, rawTags)
	if err != nil {
		return "", 0, err
	}
	if len(tags) == 0 {
		return "", 0, nil
	}

	switch action {
	case store.ActionLike:
		boost := p.cfg.LikeBoost
		if boost <= 0 {
			boost = 0.05
		}
		for _, tag := range tags {
			if err := p.store.AdjustWeight(ctx, tag, boost); err != nil {
				return "", 0, err
			}
		}
		return "", 0, nil

	case store.ActionDislike:
		penalty := p.cfg.DislikePenalty
		if penalty <= 0 {
			penalty = 0.05
		}
		for _, tag := range tags {
			if err := p.store.AdjustWeight(ctx, tag, -penalty); err != nil {
				return "", 0, err
			}
		}

		distinctive, err := p.mostDistinctive(ctx, tags)
		if err != nil {
			return "", 0, err
		}
		count, err := p.store.IncrementDislike(ctx, distinctive)
		if err != nil {
			return "", 0, err
		}
		return distinctive, count, nil

	default:
		return "", 0, fmt.Errorf("unknown reaction action %q", action)
	}
}

// mostDistinctive picks the tag with the highest rarity against the
// current profile: lowest profile weight wins, ties broken by tag asc.
func (p *Profiler) mostDistinctive(ctx context.Context, tags []string) (string, error) {
	profile, err := p.store.GetProfile(ctx)
	if err != nil {
		return "", err
	}

	best := tags[0]
	bestScore := 1.0 - profile[best]
	for _, tag := range tags[1:] {
		score := 1.0 - profile[tag]
		if score > bestScore || (score == bestScore && tag < best) {
			best = tag
			bestScore = score
		}
	}
	return best, nil
}

// unorderedPairs returns every unordered pair within the tag set, each
// with TagA < TagB and no self-pairs.
func unorderedPairs(tags []string) [][2]string {
	unique := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			unique = append(unique, tag)
		}
	}
	sort.Strings(unique)

	var pairs [][2]string
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			pairs = append(pairs, [2]string{unique[i], unique[j]})
		}
	}
	return pairs
}

// normalizeToUnitMax scales weights so the maximum equals 1.0.
func normalizeToUnitMax(weights map[string]float64) {
	var maxWeight float64
	for _, w := range weights {
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight <= 0 {
		return
	}
	for tag, w := range weights {
		weights[tag] = w / maxWeight
	}
}
