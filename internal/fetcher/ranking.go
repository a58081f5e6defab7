// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package fetcher

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

// Ranker is the platform surface the ranking strategy needs.
type Ranker interface {
	Ranking(ctx context.Context, mode string, limit int) ([]pixiv.Illust, error)
}

// RankingStrategy pulls the configured ranking modes, dividing the limit
// equally among them.
type RankingStrategy struct {
	platform Ranker
	cfg      *config.RankingConfig
	log      zerolog.Logger
}

// NewRankingStrategy builds the ranking strategy.
func NewRankingStrategy(platform Ranker, cfg *config.RankingConfig) *RankingStrategy {
	return &RankingStrategy{
		platform: platform,
		cfg:      cfg,
		log:      logging.Component("fetcher.ranking"),
	}
}

func (s *RankingStrategy) Name() string {
	return store.SourceRanking
}

func (s *RankingStrategy) Produce(ctx context.Context, _ *Profile) ([]pixiv.Illust, error) {
	if !s.cfg.Enabled || len(s.cfg.Modes) == 0 {
		return nil, nil
	}
	limit := s.cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	perMode := limit / len(s.cfg.Modes)
	if perMode < 1 {
		perMode = 1
	}

	var out []pixiv.Illust
	seen := make(map[int64]bool)
	var lastErr error

	for _, mode := range s.cfg.Modes {
		if ctx.Err() != nil {
			break
		}
		works, err := s.platform.Ranking(ctx, mode, perMode)
		if err != nil {
			s.log.Warn().Str("mode", mode).Err(err).Msg("ranking pull failed")
			lastErr = err
			continue
		}
		for _, w := range works {
			if !seen[w.ID] {
				seen[w.ID] = true
				out = append(out, w)
			}
		}
	}

	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}
