// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package filter

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

// identityNorm lowercases and underscores tags without a remote cleaner.
type identityNorm struct{}

func (identityNorm) Normalize(_ context.Context, raw []string) ([]string, map[string]string, error) {
	var cleaned []string
	mapping := make(map[string]string)
	seen := make(map[string]bool)
	for _, r := range raw {
		c := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(r))), "_")
		if c == "" {
			continue
		}
		mapping[r] = c
		if !seen[c] {
			seen[c] = true
			cleaned = append(cleaned, c)
		}
	}
	return cleaned, mapping, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func defaultFilterConfig() *config.FilterConfig {
	return &config.FilterConfig{
		DailyLimit:         20,
		ExcludeAI:          true,
		MaxPerArtist:       3,
		ArtistBoost:        0.3,
		R18Mode:            config.R18ModeMixed,
		BlacklistThreshold: 3,
	}
}

func defaultMatchConfig() *config.MatchScoreConfig {
	return &config.MatchScoreConfig{MinThreshold: 0, WeightInSort: 0.5}
}

func newTestFilter(t *testing.T, cfg *config.FilterConfig, match *config.MatchScoreConfig, subscribed ...int64) (*Filter, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	if cfg == nil {
		cfg = defaultFilterConfig()
	}
	if match == nil {
		match = defaultMatchConfig()
	}
	return New(s, identityNorm{}, cfg, match, subscribed), s
}

func ids(works []pixiv.Illust) []int64 {
	var out []int64
	for _, w := range works {
		out = append(out, w.ID)
	}
	return out
}

func TestDedupAgainstPushHistory(t *testing.T) {
	f, s := newTestFilter(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.MarkPushed(ctx, 9001, store.SourceSearch))

	out, err := f.Apply(ctx, []pixiv.Illust{{ID: 9001}, {ID: 9002}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{9002}, ids(out))
}

func TestLearnedBlacklistExcludes(t *testing.T) {
	f, s := newTestFilter(t, nil, nil)
	ctx := context.Background()
	for range 3 {
		_, err := s.IncrementDislike(ctx, "watermark")
		require.NoError(t, err)
	}

	out, err := f.Apply(ctx, []pixiv.Illust{
		{ID: 1, Tags: []string{"watermark", "scenery"}},
		{ID: 2, Tags: []string{"scenery"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(out))
}

func TestConfigBlacklistAndMute(t *testing.T) {
	cfg := defaultFilterConfig()
	cfg.BlacklistTags = []string{"gore"}
	f, s := newTestFilter(t, cfg, nil)
	ctx := context.Background()

	require.NoError(t, s.MuteTag(ctx, "mecha", time.Now().Add(time.Hour)))
	require.NoError(t, s.MuteTag(ctx, "dog", time.Now().Add(-time.Hour)))

	out, err := f.Apply(ctx, []pixiv.Illust{
		{ID: 1, Tags: []string{"gore"}},
		{ID: 2, Tags: []string{"mecha"}},
		{ID: 3, Tags: []string{"dog"}}, // mute expired
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(out))
}

func TestBlockedArtistAndAI(t *testing.T) {
	f, s := newTestFilter(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, s.BlockArtist(ctx, 55))

	out, err := f.Apply(ctx, []pixiv.Illust{
		{ID: 1, ArtistID: 55},
		{ID: 2, ArtistID: 7, IsAI: true},
		{ID: 3, ArtistID: 7},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(out))
}

func TestR18Modes(t *testing.T) {
	adult := pixiv.Illust{ID: 1, IsR18: true}
	safe := pixiv.Illust{ID: 2}

	for mode, want := range map[string][]int64{
		config.R18ModeMixed: {2, 1},
		config.R18ModeSafe:  {2},
		config.R18ModeOnly:  {1},
	} {
		cfg := defaultFilterConfig()
		cfg.R18Mode = mode
		f, _ := newTestFilter(t, cfg, nil)
		out, err := f.Apply(context.Background(), []pixiv.Illust{adult, safe}, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, ids(out), "mode %s", mode)
	}
}

func TestAllAdultWithSafeModeEmpty(t *testing.T) {
	cfg := defaultFilterConfig()
	cfg.R18Mode = config.R18ModeSafe
	f, _ := newTestFilter(t, cfg, nil)

	out, err := f.Apply(context.Background(), []pixiv.Illust{
		{ID: 1, IsR18: true}, {ID: 2, IsR18: true},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMinimumAge(t *testing.T) {
	cfg := defaultFilterConfig()
	cfg.MinCreateDays = 3
	f, _ := newTestFilter(t, cfg, nil)

	out, err := f.Apply(context.Background(), []pixiv.Illust{
		{ID: 1, CreatedAt: time.Now().Add(-24 * time.Hour)},
		{ID: 2, CreatedAt: time.Now().Add(-96 * time.Hour)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(out))
}

func TestMatchScoreBoundsAndAttachment(t *testing.T) {
	f, _ := newTestFilter(t, nil, nil)
	profile := map[string]float64{"silver_hair": 1.0, "scenery": 0.5}

	out, err := f.Apply(context.Background(), []pixiv.Illust{
		{ID: 1, Tags: []string{"Silver Hair", "scenery"}},
		{ID: 2, Tags: []string{"unrelated"}},
		{ID: 3, Tags: []string{"silver_hair"}},
	}, profile)
	require.NoError(t, err)
	require.Len(t, out, 3)

	byID := make(map[int64]pixiv.Illust)
	for _, w := range out {
		byID[w.ID] = w
	}
	assert.InDelta(t, 0.75, byID[1].MatchScore, 1e-9)
	assert.Zero(t, byID[2].MatchScore)
	assert.InDelta(t, 1.0, byID[3].MatchScore, 1e-9)
	assert.Equal(t, []string{"silver_hair", "scenery"}, byID[1].DisplayTags)

	for _, w := range out {
		assert.GreaterOrEqual(t, w.MatchScore, 0.0)
		assert.LessOrEqual(t, w.MatchScore, 1.0)
	}
}

func TestMonotoneInMinThreshold(t *testing.T) {
	profile := map[string]float64{"a": 1.0, "b": 0.4}
	candidates := []pixiv.Illust{
		{ID: 1, Tags: []string{"a"}},
		{ID: 2, Tags: []string{"b"}},
		{ID: 3, Tags: []string{"c"}},
	}

	admitted := func(threshold float64) map[int64]bool {
		match := defaultMatchConfig()
		match.MinThreshold = threshold
		f, _ := newTestFilter(t, nil, match)
		out, err := f.Apply(context.Background(), candidates, profile)
		require.NoError(t, err)
		set := make(map[int64]bool)
		for _, id := range ids(out) {
			set[id] = true
		}
		return set
	}

	prev := admitted(0)
	for _, th := range []float64{0.2, 0.5, 0.9} {
		cur := admitted(th)
		for id := range cur {
			assert.True(t, prev[id], "threshold %v admitted new work %d", th, id)
		}
		prev = cur
	}
}

func TestCompositeSortAndTies(t *testing.T) {
	match := defaultMatchConfig()
	match.WeightInSort = 1.0 // score only, popularity ignored
	f, _ := newTestFilter(t, nil, match)
	profile := map[string]float64{"a": 1.0, "b": 0.5}

	out, err := f.Apply(context.Background(), []pixiv.Illust{
		{ID: 10, Tags: []string{"b"}, Bookmarks: 999},
		{ID: 20, Tags: []string{"a"}, Bookmarks: 5},
		{ID: 30, Tags: []string{"a"}, Bookmarks: 9},
		{ID: 40, Tags: []string{"a"}, Bookmarks: 9},
	}, profile)
	require.NoError(t, err)
	// Score desc, then bookmarks desc, then id desc.
	assert.Equal(t, []int64{40, 30, 20, 10}, ids(out))
}

func TestSubscribedAuthorBoost(t *testing.T) {
	cfg := defaultFilterConfig()
	cfg.ArtistBoost = 0.5
	f, _ := newTestFilter(t, cfg, nil, 77)
	profile := map[string]float64{"a": 1.0}

	out, err := f.Apply(context.Background(), []pixiv.Illust{
		{ID: 1, ArtistID: 5, Tags: []string{"a"}, Bookmarks: 50},
		{ID: 2, ArtistID: 77, Tags: []string{}, Bookmarks: 100},
	}, profile)
	require.NoError(t, err)
	// Boost 0.5 beats the score advantage of work 1.
	assert.Equal(t, []int64{2, 1}, ids(out))
}

func TestPerAuthorQuota(t *testing.T) {
	cfg := defaultFilterConfig()
	cfg.MaxPerArtist = 2
	f, _ := newTestFilter(t, cfg, nil)

	out, err := f.Apply(context.Background(), []pixiv.Illust{
		{ID: 1, ArtistID: 9, Bookmarks: 40},
		{ID: 2, ArtistID: 9, Bookmarks: 30},
		{ID: 3, ArtistID: 9, Bookmarks: 20},
		{ID: 4, ArtistID: 8, Bookmarks: 10},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4}, ids(out))
}

func TestDailyLimit(t *testing.T) {
	cfg := defaultFilterConfig()
	cfg.DailyLimit = 2
	f, _ := newTestFilter(t, cfg, nil)

	out, err := f.Apply(context.Background(), []pixiv.Illust{
		{ID: 1, ArtistID: 1, Bookmarks: 30},
		{ID: 2, ArtistID: 2, Bookmarks: 20},
		{ID: 3, ArtistID: 3, Bookmarks: 10},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(out))
}

func TestDailyLimitZero(t *testing.T) {
	cfg := defaultFilterConfig()
	cfg.DailyLimit = 0
	f, _ := newTestFilter(t, cfg, nil)

	out, err := f.Apply(context.Background(), []pixiv.Illust{{ID: 1}}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEmptyInput(t *testing.T) {
	f, _ := newTestFilter(t, nil, nil)
	out, err := f.Apply(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
