// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/fetcher"
	"github.com/pixivpush/pixivpush/internal/notify"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

type fakeProfiler struct {
	mu        sync.Mutex
	builds    int
	topTags   []store.TagWeight
	reactions []string
	reactErr  error
}

func (f *fakeProfiler) Build(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	return nil
}

func (f *fakeProfiler) TopN(context.Context) ([]store.TagWeight, error) {
	return f.topTags, nil
}

func (f *fakeProfiler) ApplyReaction(_ context.Context, illustID int64, action string) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, fmt.Sprintf("%d:%s", illustID, action))
	if f.reactErr != nil {
		return "", 0, f.reactErr
	}
	if action == store.ActionDislike {
		return "watermark", 1, nil
	}
	return "", 0, nil
}

type fakeFetcher struct {
	result *fetcher.Result
}

func (f *fakeFetcher) FetchAll(context.Context, *fetcher.Profile) (*fetcher.Result, error) {
	return f.result, nil
}

// passFilter admits everything unchanged.
type passFilter struct{}

func (passFilter) Apply(_ context.Context, candidates []pixiv.Illust, _ map[string]float64) ([]pixiv.Illust, error) {
	return candidates, nil
}

type fakeNotifier struct {
	name    string
	failIDs map[int64]bool
	started chan struct{} // signaled when Send is entered
	block   chan struct{} // when set, Send waits for close

	mu        sync.Mutex
	sent      [][]int64
	texts     []string
	batchMode string
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(_ context.Context, works []pixiv.Illust) ([]int64, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	var ids []int64
	var err error
	for _, w := range works {
		if f.failIDs[w.ID] {
			err = &notify.DeliveryError{Backend: f.name, WorkID: w.ID, Err: fmt.Errorf("boom")}
			continue
		}
		ids = append(ids, w.ID)
	}
	f.mu.Lock()
	f.sent = append(f.sent, ids)
	f.mu.Unlock()
	return ids, err
}

func (f *fakeNotifier) SendText(_ context.Context, text string, _ [][]notify.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeNotifier) ToggleBatchMode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchMode == "telegraph" {
		f.batchMode = "single"
	} else {
		f.batchMode = "telegraph"
	}
	return f.batchMode
}

func (f *fakeNotifier) Close() error { return nil }

type fakePlatform struct {
	pixiv.API

	mu        sync.Mutex
	bookmarks []int64
	follows   []int64
	fail      bool
	searchOut []pixiv.Illust
}

func (f *fakePlatform) AddBookmark(_ context.Context, illustID int64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return &pixiv.TransientNetworkError{Err: fmt.Errorf("down")}
	}
	f.bookmarks = append(f.bookmarks, illustID)
	return nil
}

func (f *fakePlatform) FollowUser(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows = append(f.follows, userID)
	return nil
}

func (f *fakePlatform) SearchIllusts(_ context.Context, _ string, _, _, limit int) ([]pixiv.Illust, error) {
	out := f.searchOut
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeRetrier struct {
	err     error
	retried []int64
}

func (f *fakeRetrier) Retry(_ context.Context, errorID int64) error {
	f.retried = append(f.retried, errorID)
	return f.err
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

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheduler.Coalesce = true
	return cfg
}

func newTestOrchestrator(t *testing.T, fetch CandidateFetcher) (*Orchestrator, *store.Store, *fakeProfiler, *fakePlatform) {
	t.Helper()
	s := newTestStore(t)
	prof := &fakeProfiler{}
	platform := &fakePlatform{}
	if fetch == nil {
		fetch = &fakeFetcher{result: &fetcher.Result{Sources: map[int64]string{}}}
	}
	o := New(s, prof, fetch, passFilter{}, platform, &fakeRetrier{}, testConfig())
	return o, s, prof, platform
}

func TestTickMultiChannelAtMostOnce(t *testing.T) {
	fetch := &fakeFetcher{result: &fetcher.Result{
		Works:   []pixiv.Illust{{ID: 7777, ArtistID: 3, Tags: []string{"t"}}},
		Sources: map[int64]string{7777: store.SourceSubscription},
	}}
	o, s, _, _ := newTestOrchestrator(t, fetch)
	a := &fakeNotifier{name: "a"}
	b := &fakeNotifier{name: "b", failIDs: map[int64]bool{7777: true}}
	o.AddNotifier(a)
	o.AddNotifier(b)

	require.NoError(t, o.RunTick(context.Background()))

	ctx := context.Background()
	pushed, err := s.IsPushed(ctx, 7777)
	require.NoError(t, err)
	assert.True(t, pushed)

	// Tags cached for later reactions.
	tags, ok, err := s.CachedTags(ctx, 7777)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"t"}, tags)

	// Source attribution survives.
	stats, err := s.PushStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pushed)
}

func TestTickCoalescing(t *testing.T) {
	block := make(chan struct{})
	fetch := &fakeFetcher{result: &fetcher.Result{
		Works:   []pixiv.Illust{{ID: 1}},
		Sources: map[int64]string{},
	}}
	o, _, _, _ := newTestOrchestrator(t, fetch)
	slow := &fakeNotifier{name: "slow", block: block, started: make(chan struct{}, 1)}
	o.AddNotifier(slow)

	done := make(chan error, 1)
	go func() { done <- o.RunTick(context.Background()) }()

	// Wait for the first tick to reach the blocking notifier.
	select {
	case <-slow.started:
	case <-time.After(3 * time.Second):
		t.Fatal("first tick never reached delivery")
	}
	assert.ErrorIs(t, o.RunTick(context.Background()), ErrTickRunning)

	close(block)
	require.NoError(t, <-done)
}

func TestReactionAppliesLocallyThenMirrors(t *testing.T) {
	o, _, prof, platform := newTestOrchestrator(t, nil)

	ack, err := o.onReaction(context.Background(), 5555, store.ActionLike)
	require.NoError(t, err)
	assert.Contains(t, ack, "liked")
	assert.Equal(t, []string{"5555:like"}, prof.reactions)

	require.Eventually(t, func() bool {
		platform.mu.Lock()
		defer platform.mu.Unlock()
		return len(platform.bookmarks) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReactionMirrorFailureWarnsWithoutRollback(t *testing.T) {
	o, _, prof, platform := newTestOrchestrator(t, nil)
	platform.fail = true
	n := &fakeNotifier{name: "a"}
	o.AddNotifier(n)

	ack, err := o.onReaction(context.Background(), 5555, store.ActionLike)
	require.NoError(t, err)
	assert.NotEmpty(t, ack)

	// Local mutation happened exactly once and stays.
	assert.Equal(t, []string{"5555:like"}, prof.reactions)

	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.texts) == 1
	}, 3*time.Second, 10*time.Millisecond)
	n.mu.Lock()
	assert.Contains(t, n.texts[0], "mirror failed")
	n.mu.Unlock()
}

func TestDislikeAckNamesDistinctiveTag(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, nil)
	ack, err := o.onReaction(context.Background(), 1, store.ActionDislike)
	require.NoError(t, err)
	assert.Contains(t, ack, "watermark")
}

func TestCleanerErrorSummary(t *testing.T) {
	fetch := &fakeFetcher{result: &fetcher.Result{
		Works:   []pixiv.Illust{{ID: 1}},
		Sources: map[int64]string{},
	}}
	o, s, _, _ := newTestOrchestrator(t, fetch)
	n := &fakeNotifier{name: "a"}
	o.AddNotifier(n)

	_, err := s.LogAIError(context.Background(), []string{"raw"}, "endpoint down")
	require.NoError(t, err)

	require.NoError(t, o.RunTick(context.Background()))
	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "tag cleaner")
}

func TestRetryAICallback(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t, nil)
	retrier := &fakeRetrier{}
	o.retrier = retrier

	ack, err := o.onRetryAI(context.Background(), 3)
	require.NoError(t, err)
	assert.Contains(t, ack, "3")
	assert.Equal(t, []int64{3}, retrier.retried)
}

func TestCommandMux(t *testing.T) {
	o, s, _, platform := newTestOrchestrator(t, nil)
	ctx := context.Background()

	reply, err := o.onCommand(ctx, "help", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "/mute")

	_, err = o.onCommand(ctx, "block", []string{"99"})
	require.NoError(t, err)
	blocked, err := s.BlockedArtists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, blocked)

	_, err = o.onCommand(ctx, "unblock", []string{"99"})
	require.NoError(t, err)
	blocked, err = s.BlockedArtists(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	_, err = o.onCommand(ctx, "mute", []string{"mecha", "7d"})
	require.NoError(t, err)
	muted, err := s.MutedTags(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"mecha"}, muted)

	_, err = o.onCommand(ctx, "unmute", []string{"mecha"})
	require.NoError(t, err)
	muted, err = s.MutedTags(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, muted)

	reply, err = o.onCommand(ctx, "schedule", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, o.cfg.Scheduler.Cron)

	reply, err = o.onCommand(ctx, "stats", []string{"3"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "last 3 day(s)")

	reply, err = o.onCommand(ctx, "batch", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "no backend supports batch mode")

	n := &fakeNotifier{name: "a"}
	o.AddNotifier(n)
	reply, err = o.onCommand(ctx, "batch", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "telegraph")
	reply, err = o.onCommand(ctx, "batch", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "single")

	_, err = o.onCommand(ctx, "stats", []string{"zero"})
	require.Error(t, err)

	reply, err = o.onCommand(ctx, "nonsense", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "unknown command")

	platform.searchOut = []pixiv.Illust{{ID: 1}, {ID: 2}}
	reply, err = o.onCommand(ctx, "search", []string{"silver", "hair"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "2 result(s)")
}

func TestFollowCallback(t *testing.T) {
	o, _, _, platform := newTestOrchestrator(t, nil)
	ack, err := o.onFollow(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, ack, "42")
	assert.Equal(t, []int64{42}, platform.follows)
}
