// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package fetcher

import (
	"context"
	"math/rand"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

// RawSource resolves a canonical tag to its most effective raw search term.
type RawSource interface {
	BestRawFor(ctx context.Context, canonical string) (string, error)
}

// Searcher is the platform surface the search strategy needs.
type Searcher interface {
	SearchIllusts(ctx context.Context, query string, threshold, dateRangeDays, limit int) ([]pixiv.Illust, error)
}

// perQuerySlice bounds how many works one expansion query contributes.
const perQuerySlice = 30

// pairQuotaShare is the fraction of the per-tick quota phase A (pair
// queries) may fill before phase B takes over.
const pairQuotaShare = 0.6

// SearchStrategy turns profile tags and pairs into expansion queries with
// adaptive popularity thresholds.
type SearchStrategy struct {
	platform Searcher
	raws     RawSource
	dict     *SynonymDict
	cfg      *config.FetcherConfig
	rate     float64 // discovery rate
	log      zerolog.Logger
	rand     *rand.Rand
}

// NewSearchStrategy builds the profile-driven search strategy.
func NewSearchStrategy(platform Searcher, raws RawSource, dict *SynonymDict, cfg *config.FetcherConfig, discoveryRate float64) *SearchStrategy {
	return &SearchStrategy{
		platform: platform,
		raws:     raws,
		dict:     dict,
		cfg:      cfg,
		rate:     discoveryRate,
		log:      logging.Component("fetcher.search"),
		rand:     rand.New(rand.NewSource(rand.Int63())), //nolint:gosec // sampling, not crypto
	}
}

func (s *SearchStrategy) Name() string {
	return store.SourceSearch
}

// AdaptiveThreshold scales the bookmark-count floor with profile weight
// and query specificity. Pair queries halve the floor; the result never
// drops below 100.
func AdaptiveThreshold(base int, weight float64, pair bool) int {
	factor := weight
	if factor < 0.3 {
		factor = 0.3
	}
	t := float64(base) * factor
	if pair {
		t *= 0.5
	}
	if t < 100 {
		return 100
	}
	return int(t)
}

// expand builds the disjunctive query for one canonical tag: known
// synonyms plus the store-observed best raw form.
func (s *SearchStrategy) expand(ctx context.Context, tag string) string {
	terms := append([]string(nil), s.dict.Terms(tag)...)

	if s.raws != nil {
		if best, err := s.raws.BestRawFor(ctx, tag); err == nil && best != "" {
			if !containsTerm(terms, best) {
				terms = append(terms, best)
			}
		}
	}
	if len(terms) == 0 {
		terms = []string{strings.ReplaceAll(tag, "_", " ")}
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

func containsTerm(terms []string, t string) bool {
	for _, x := range terms {
		if x == t {
			return true
		}
	}
	return false
}

// Produce runs the three search phases. Per-query failures are logged and
// skipped; the strategy returns whatever succeeded.
func (s *SearchStrategy) Produce(ctx context.Context, profile *Profile) ([]pixiv.Illust, error) {
	if len(profile.TopTags) == 0 {
		return nil, nil
	}

	quota := s.cfg.DiscoveryLimit
	if quota <= 0 {
		quota = 200
	}
	base := s.cfg.BookmarkThreshold.Search

	var out []pixiv.Illust
	seen := make(map[int64]bool)

	collect := func(works []pixiv.Illust) {
		for _, w := range works {
			if !seen[w.ID] {
				seen[w.ID] = true
				out = append(out, w)
			}
		}
	}

	// Phase A: pair queries in weight-descending order, up to 60% quota.
	pairBudget := int(float64(quota) * pairQuotaShare)
	for _, pair := range profile.Pairs {
		if len(out) >= pairBudget || ctx.Err() != nil {
			break
		}
		qa := s.expand(ctx, pair.TagA)
		qb := s.expand(ctx, pair.TagB)
		// A query contained in the other adds nothing.
		if strings.Contains(qa, qb) || strings.Contains(qb, qa) {
			continue
		}
		weight := min(profile.WeightOf(pair.TagA), profile.WeightOf(pair.TagB))
		threshold := AdaptiveThreshold(base, weight, true)

		works, err := s.platform.SearchIllusts(ctx, qa+" "+qb, threshold, s.cfg.DateRangeDays, perQuerySlice)
		if err != nil {
			s.log.Warn().Str("pair", pair.TagA+"+"+pair.TagB).Err(err).Msg("pair query failed")
			continue
		}
		collect(works)
	}

	// Phase B: weighted sampling without replacement over top tags.
	for _, tw := range s.sampleByWeight(profile.TopTags) {
		if len(out) >= quota || ctx.Err() != nil {
			break
		}
		threshold := AdaptiveThreshold(base, tw.Weight, false)
		works, err := s.platform.SearchIllusts(ctx, s.expand(ctx, tw.Tag), threshold, s.cfg.DateRangeDays, perQuerySlice)
		if err != nil {
			s.log.Warn().Str("tag", tw.Tag).Err(err).Msg("tag query failed")
			continue
		}
		collect(works)
	}

	// Phase C: one exploratory query from the lower-weight tail.
	if s.rate > 0 && s.rand.Float64() < s.rate {
		if tag := s.discoveryTag(profile); tag != "" && ctx.Err() == nil {
			works, err := s.platform.SearchIllusts(ctx, s.expand(ctx, tag),
				AdaptiveThreshold(base, 0, false), s.cfg.DateRangeDays, perQuerySlice)
			if err != nil {
				s.log.Warn().Str("tag", tag).Err(err).Msg("discovery query failed")
			} else {
				collect(works)
			}
		}
	}

	if len(out) > quota {
		out = out[:quota]
	}
	return out, nil
}

// sampleByWeight orders tags by weighted sampling without replacement:
// heavier tags tend to come first but every tag keeps a chance.
func (s *SearchStrategy) sampleByWeight(tags []store.TagWeight) []store.TagWeight {
	remaining := append([]store.TagWeight(nil), tags...)
	out := make([]store.TagWeight, 0, len(remaining))

	for len(remaining) > 0 {
		var total float64
		for _, tw := range remaining {
			total += tw.Weight
		}
		if total <= 0 {
			out = append(out, remaining...)
			break
		}
		r := s.rand.Float64() * total
		idx := 0
		for i, tw := range remaining {
			r -= tw.Weight
			if r <= 0 {
				idx = i
				break
			}
		}
		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}

// discoveryTag picks a random profile tag outside the top-N set.
func (s *SearchStrategy) discoveryTag(profile *Profile) string {
	top := make(map[string]bool, len(profile.TopTags))
	for _, tw := range profile.TopTags {
		top[tw.Tag] = true
	}
	var tail []string
	for tag := range profile.Weights {
		if !top[tag] {
			tail = append(tail, tag)
		}
	}
	if len(tail) == 0 {
		return ""
	}
	return tail[s.rand.Intn(len(tail))]
}
