// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixivpush/pixivpush/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIdempotentSchema(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	}
	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening the same file must not fail on existing tables.
	s, err = Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestMarkPushedAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pushed, err := s.IsPushed(ctx, 9001)
	require.NoError(t, err)
	assert.False(t, pushed)

	require.NoError(t, s.MarkPushed(ctx, 9001, SourceSearch))

	pushed, err = s.IsPushed(ctx, 9001)
	require.NoError(t, err)
	assert.True(t, pushed)

	// Second mark is a no-op, not an error, and keeps the first source.
	require.NoError(t, s.MarkPushed(ctx, 9001, SourceRanking))

	var count int
	var source string
	err = s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(source) FROM push_history WHERE illust_id = 9001").
		Scan(&count, &source)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, SourceSearch, source)
}

func TestPushedAmong(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkPushed(ctx, 9001, SourceSearch))

	pushed, err := s.PushedAmong(ctx, []int64{9001, 9002})
	require.NoError(t, err)
	assert.True(t, pushed[9001])
	assert.False(t, pushed[9002])

	empty, err := s.PushedAmong(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReplaceProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	profile := map[string]float64{
		"silver_hair": 1.0,
		"maid":        0.7,
		"blue_archive": 0.4,
	}
	require.NoError(t, s.ReplaceProfile(ctx, profile))

	got, err := s.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	// Replace fully supersedes the previous profile.
	require.NoError(t, s.ReplaceProfile(ctx, map[string]float64{"maid": 1.0}))
	got, err = s.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"maid": 1.0}, got)
}

func TestAdjustWeightClampsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceProfile(ctx, map[string]float64{"maid": 0.03}))
	require.NoError(t, s.AdjustWeight(ctx, "maid", -0.05))

	got, err := s.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got["maid"])

	// Adjusting an absent tag inserts it.
	require.NoError(t, s.AdjustWeight(ctx, "genshin_impact", 0.05))
	got, err = s.GetProfile(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got["genshin_impact"], 1e-9)
}

func TestTopTagsStableOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceProfile(ctx, map[string]float64{
		"b_tag": 0.5,
		"a_tag": 0.5,
		"top":   1.0,
		"zero":  0.0,
	}))

	top, err := s.TopTags(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "top", top[0].Tag)
	assert.Equal(t, "a_tag", top[1].Tag)
	assert.Equal(t, "b_tag", top[2].Tag)
}

func TestPairsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pairs := []Pair{
		{TagA: "maid", TagB: "silver_hair", Weight: 2.0},
		{TagA: "blue_archive", TagB: "maid", Weight: 1.0},
	}
	require.NoError(t, s.ReplacePairs(ctx, pairs))

	got, err := s.GetTopPairs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "maid", got[0].TagA)
	assert.Equal(t, "silver_hair", got[0].TagB)
}

func TestReactionOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordReaction(ctx, 5555, ActionLike))
	require.NoError(t, s.RecordReaction(ctx, 5555, ActionDislike))

	ids, err := s.LikedIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.RecordReaction(ctx, 5555, ActionLike))
	ids, err = s.LikedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5555}, ids)
}

func TestDislikeBlacklistThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, err := s.IncrementDislike(ctx, "watermark")
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	tags, err := s.Blacklist(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"watermark"}, tags)

	tags, err = s.Blacklist(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, tags)

	require.NoError(t, s.RemoveFromBlacklist(ctx, "watermark"))
	tags, err = s.Blacklist(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestCacheWorkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tags := []string{"銀髪", "メイド"}
	require.NoError(t, s.CacheWork(ctx, 1001, 42, tags))

	got, ok, err := s.CachedTags(ctx, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tags, got)

	artist, err := s.CachedArtist(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(42), artist)

	_, ok, err = s.CachedTags(ctx, 404)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanCacheNullSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	canonical := "silver_hair"
	require.NoError(t, s.UpsertCleanCache(ctx, map[string]*string{
		"銀髪":     &canonical,
		"オリジナル": nil, // filtered as meaningless
	}))

	snapshot, err := s.CleanCacheSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, CleanEntry{Canonical: "silver_hair"}, snapshot["銀髪"])
	assert.Equal(t, CleanEntry{Filtered: true}, snapshot["オリジナル"])
}

func TestRawMappingBestRaw(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BumpRawMapping(ctx, map[string]string{"銀髪": "silver_hair"}))
	require.NoError(t, s.BumpRawMapping(ctx, map[string]string{"銀髪": "silver_hair"}))
	require.NoError(t, s.BumpRawMapping(ctx, map[string]string{"白髪": "silver_hair"}))

	best, err := s.BestRawFor(ctx, "silver_hair")
	require.NoError(t, err)
	assert.Equal(t, "銀髪", best)

	best, err = s.BestRawFor(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, best)
}

func TestBookmarkScansRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	scans := []BookmarkScan{
		{IllustID: 1001, Tags: []string{"silver hair", "maid"}, IllustCreatedAt: now.Add(-24 * time.Hour)},
		{IllustID: 1002, Tags: []string{"silver hair"}, IllustCreatedAt: now.Add(-48 * time.Hour)},
	}
	require.NoError(t, s.SaveBookmarkScans(ctx, 42, scans))

	got, err := s.BookmarkScans(ctx, 42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest work first.
	assert.Equal(t, int64(1001), got[0].IllustID)
	assert.Equal(t, []string{"silver hair", "maid"}, got[0].Tags)

	// Upsert replaces rather than duplicating.
	require.NoError(t, s.SaveBookmarkScans(ctx, 42, scans[:1]))
	got, err = s.BookmarkScans(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSystemState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	value, err := s.GetState(ctx, "xp_scan:42")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, s.SetState(ctx, "xp_scan:42", "complete"))
	require.NoError(t, s.SetState(ctx, "xp_scan:42", "partial"))

	value, err = s.GetState(ctx, "xp_scan:42")
	require.NoError(t, err)
	assert.Equal(t, "partial", value)
}

func TestMuteExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.MuteTag(ctx, "genshin_impact", now.Add(time.Hour)))
	require.NoError(t, s.MuteTag(ctx, "stale", now.Add(-time.Hour)))

	muted, err := s.MutedTags(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"genshin_impact"}, muted)

	require.NoError(t, s.UnmuteTag(ctx, "genshin_impact"))
	muted, err = s.MutedTags(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, muted)
}

func TestArtistBlacklist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BlockArtist(ctx, 77))
	require.NoError(t, s.BlockArtist(ctx, 77))
	require.NoError(t, s.BlockArtist(ctx, 12))

	ids, err := s.BlockedArtists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 77}, ids)

	require.NoError(t, s.UnblockArtist(ctx, 77))
	ids, err = s.BlockedArtists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{12}, ids)
}

func TestAIErrorLogLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogAIError(ctx, []string{"銀髪", "メイド"}, "upstream timeout")
	require.NoError(t, err)
	require.Positive(t, id)

	entry, err := s.AIError(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"銀髪", "メイド"}, entry.RawTags)
	assert.Equal(t, AIErrorPending, entry.Status)

	pending, err := s.PendingAIErrors(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.SetAIErrorStatus(ctx, id, AIErrorResolved))
	pending, err = s.PendingAIErrors(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.AIError(ctx, 99999)
	assert.Error(t, err)
}

func TestResetProfileData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceProfile(ctx, map[string]float64{"maid": 1.0}))
	require.NoError(t, s.ReplacePairs(ctx, []Pair{{TagA: "a", TagB: "b", Weight: 1}}))
	require.NoError(t, s.BumpRawMapping(ctx, map[string]string{"メイド": "maid"}))
	_, err := s.LogAIError(ctx, []string{"x"}, "boom")
	require.NoError(t, err)
	require.NoError(t, s.MarkPushed(ctx, 9001, SourceSearch))
	require.NoError(t, s.RecordReaction(ctx, 9001, ActionLike))

	require.NoError(t, s.ResetProfileData(ctx))

	profile, err := s.GetProfile(ctx)
	require.NoError(t, err)
	assert.Empty(t, profile)

	pairs, err := s.GetTopPairs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pairs)

	// History and reactions survive the reset.
	pushed, err := s.IsPushed(ctx, 9001)
	require.NoError(t, err)
	assert.True(t, pushed)

	liked, err := s.LikedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{9001}, liked)
}

func TestPushStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CacheWork(ctx, 1, 42, []string{"maid", "silver_hair"}))
	require.NoError(t, s.CacheWork(ctx, 2, 42, []string{"maid"}))
	require.NoError(t, s.CacheWork(ctx, 3, 7, []string{"landscape"}))
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, s.MarkPushed(ctx, id, SourceSearch))
	}
	require.NoError(t, s.RecordReaction(ctx, 1, ActionLike))
	require.NoError(t, s.RecordReaction(ctx, 3, ActionDislike))

	stats, err := s.PushStats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pushed)
	assert.Equal(t, 1, stats.Liked)
	assert.Equal(t, 1, stats.Disliked)
	require.NotEmpty(t, stats.TopAuthors)
	assert.Equal(t, int64(42), stats.TopAuthors[0].ArtistID)
	assert.Equal(t, 2, stats.TopAuthors[0].Count)
	require.NotEmpty(t, stats.TopTags)
	assert.Equal(t, "maid", stats.TopTags[0].Tag)
}
