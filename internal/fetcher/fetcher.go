// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package fetcher discovers candidate works by expanding the taste
// profile into platform queries across search, subscription, and ranking
// strategies.
package fetcher

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

// Profile is the fetcher's view of the taste profile for one tick.
type Profile struct {
	TopTags []store.TagWeight
	Pairs   []store.Pair
	Weights map[string]float64
}

// WeightOf returns the profile weight of a canonical tag, 0 when absent.
func (p *Profile) WeightOf(tag string) float64 {
	return p.Weights[tag]
}

// Strategy produces candidate works for a tick. Implementations tolerate
// partial failure: they log and return whatever succeeded.
type Strategy interface {
	Name() string
	Produce(ctx context.Context, profile *Profile) ([]pixiv.Illust, error)
}

// Result is the union of all strategy outputs for one tick.
type Result struct {
	Works []pixiv.Illust
	// Sources attributes each work id to the strategy that produced it,
	// ties resolved subscription > search > ranking.
	Sources map[int64]string
}

// Fetcher fans out over its strategies.
type Fetcher struct {
	strategies []Strategy
}

// New builds a Fetcher over the given strategies.
func New(strategies ...Strategy) *Fetcher {
	return &Fetcher{strategies: strategies}
}

// sourcePriority orders attribution for works found by several strategies.
var sourcePriority = map[string]int{
	store.SourceSubscription: 3,
	store.SourceSearch:       2,
	store.SourceRanking:      1,
}

// FetchAll runs every strategy in parallel and unions the results. A
// failing strategy is logged and skipped; the tick continues with the
// rest.
func (f *Fetcher) FetchAll(ctx context.Context, profile *Profile) (*Result, error) {
	log := logging.Component("fetcher")

	var mu sync.Mutex
	result := &Result{Sources: make(map[int64]string)}
	seen := make(map[int64]bool)

	g, gctx := errgroup.WithContext(ctx)
	for _, strat := range f.strategies {
		g.Go(func() error {
			works, err := strat.Produce(gctx, profile)
			if err != nil {
				log.Error().Str("strategy", strat.Name()).Err(err).
					Msg("strategy failed")
			}
			if len(works) == 0 {
				return nil
			}
			metrics.CandidatesFetched.WithLabelValues(strat.Name()).
				Add(float64(len(works)))

			mu.Lock()
			defer mu.Unlock()
			for _, w := range works {
				if !seen[w.ID] {
					seen[w.ID] = true
					result.Works = append(result.Works, w)
				}
				if sourcePriority[strat.Name()] > sourcePriority[result.Sources[w.ID]] {
					result.Sources[w.ID] = strat.Name()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	log.Info().Int("candidates", len(result.Works)).Msg("fetch complete")
	return result, nil
}
