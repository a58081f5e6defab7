// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package orchestrator drives the recommendation pipeline: scheduled
// ticks through profiler, fetcher, filter, and notifier fan-out, plus
// the reaction and command callbacks arriving from chat backends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/fetcher"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
	"github.com/pixivpush/pixivpush/internal/notify"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/store"
)

// topPairCount is how many tag pairs feed the search strategy per tick.
const topPairCount = 10

// mirrorTimeout bounds each best-effort platform mirror call.
const mirrorTimeout = 30 * time.Second

// ErrTickRunning is returned when coalescing skips an overlapping tick.
var ErrTickRunning = errors.New("tick already running")

// ProfileEngine is the profiler surface the orchestrator needs.
type ProfileEngine interface {
	Build(ctx context.Context) error
	TopN(ctx context.Context) ([]store.TagWeight, error)
	ApplyReaction(ctx context.Context, illustID int64, action string) (string, int, error)
}

// CandidateFetcher fans out the discovery strategies.
type CandidateFetcher interface {
	FetchAll(ctx context.Context, profile *fetcher.Profile) (*fetcher.Result, error)
}

// WorkFilter applies the exclusion and ranking pipeline.
type WorkFilter interface {
	Apply(ctx context.Context, candidates []pixiv.Illust, profile map[string]float64) ([]pixiv.Illust, error)
}

// CleanerRetrier re-runs a failed tag-cleaner batch.
type CleanerRetrier interface {
	Retry(ctx context.Context, errorID int64) error
}

// Orchestrator wires the pipeline together.
type Orchestrator struct {
	store     *store.Store
	profiler  ProfileEngine
	fetcher   CandidateFetcher
	filter    WorkFilter
	platform  pixiv.API
	retrier   CleanerRetrier
	notifiers []notify.Notifier
	cfg       *config.Config
	log       zerolog.Logger

	tickMu sync.Mutex
}

// New builds an Orchestrator. Notifiers are registered afterwards so
// their callbacks can point back at this value.
func New(st *store.Store, prof ProfileEngine, fetch CandidateFetcher, filt WorkFilter, platform pixiv.API, retrier CleanerRetrier, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:    st,
		profiler: prof,
		fetcher:  fetch,
		filter:   filt,
		platform: platform,
		retrier:  retrier,
		cfg:      cfg,
		log:      logging.Component("orchestrator"),
	}
}

// AddNotifier registers a delivery backend.
func (o *Orchestrator) AddNotifier(n notify.Notifier) {
	o.notifiers = append(o.notifiers, n)
}

// RunTick executes one full pipeline pass. With coalescing enabled an
// overlapping invocation returns ErrTickRunning instead of queueing.
func (o *Orchestrator) RunTick(ctx context.Context) error {
	if o.cfg.Scheduler.Coalesce {
		if !o.tickMu.TryLock() {
			metrics.TicksTotal.WithLabelValues("skipped").Inc()
			o.log.Warn().Msg("previous tick still running, skipping")
			return ErrTickRunning
		}
	} else {
		o.tickMu.Lock()
	}
	defer o.tickMu.Unlock()

	start := time.Now()
	log := o.log.With().Str("tick_id", uuid.NewString()).Logger()
	log.Info().Msg("tick started")

	err := o.tick(ctx, log)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("tick failed")
		return err
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	log.Info().Dur("took", time.Since(start)).Msg("tick complete")
	return nil
}

func (o *Orchestrator) tick(ctx context.Context, log zerolog.Logger) error {
	if err := o.profiler.Build(ctx); err != nil {
		return fmt.Errorf("build profile: %w", err)
	}

	profile, err := o.loadProfile(ctx)
	if err != nil {
		return err
	}

	result, err := o.fetcher.FetchAll(ctx, profile)
	if err != nil {
		return fmt.Errorf("fetch candidates: %w", err)
	}

	works, err := o.filter.Apply(ctx, result.Works, profile.Weights)
	if err != nil {
		return fmt.Errorf("filter candidates: %w", err)
	}
	log.Info().Int("candidates", len(result.Works)).Int("selected", len(works)).
		Msg("pipeline selected works")
	if len(works) == 0 {
		return nil
	}

	for _, w := range works {
		if err := o.store.CacheWork(ctx, w.ID, w.ArtistID, w.Tags); err != nil {
			return fmt.Errorf("cache work %d: %w", w.ID, err)
		}
	}

	pushed := o.deliver(ctx, log, works)
	for _, id := range pushed {
		source := result.Sources[id]
		if source == "" {
			source = store.SourceSearch
		}
		if err := o.store.MarkPushed(ctx, id, source); err != nil {
			return fmt.Errorf("record push %d: %w", id, err)
		}
	}

	o.reportCleanerErrors(ctx, log)
	return nil
}

// loadProfile assembles the fetcher's view of the current profile.
func (o *Orchestrator) loadProfile(ctx context.Context) (*fetcher.Profile, error) {
	topTags, err := o.profiler.TopN(ctx)
	if err != nil {
		return nil, fmt.Errorf("load top tags: %w", err)
	}
	weights, err := o.store.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	pairs, err := o.store.GetTopPairs(ctx, topPairCount)
	if err != nil {
		return nil, fmt.Errorf("load pairs: %w", err)
	}
	return &fetcher.Profile{TopTags: topTags, Pairs: pairs, Weights: weights}, nil
}

// deliver fans works out to every notifier concurrently and returns the
// union of work ids at least one backend accepted.
func (o *Orchestrator) deliver(ctx context.Context, log zerolog.Logger, works []pixiv.Illust) []int64 {
	var mu sync.Mutex
	union := make(map[int64]bool)

	var wg sync.WaitGroup
	for _, n := range o.notifiers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := n.Send(ctx, works)
			if err != nil {
				log.Error().Str("backend", n.Name()).Err(err).Msg("delivery failed")
			}
			if len(ids) > 0 {
				metrics.WorksPushed.WithLabelValues(n.Name()).Add(float64(len(ids)))
			}
			mu.Lock()
			for _, id := range ids {
				union[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Deterministic push-record order.
	out := make([]int64, 0, len(union))
	for id := range union {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// reportCleanerErrors surfaces pending tag-cleaner failures with a
// retry button per error.
func (o *Orchestrator) reportCleanerErrors(ctx context.Context, log zerolog.Logger) {
	pending, err := o.store.PendingAIErrors(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cleaner error lookup failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	var buttons [][]notify.Button
	for i, e := range pending {
		if i >= 5 {
			break
		}
		buttons = append(buttons, []notify.Button{{
			Text: fmt.Sprintf("retry #%d", e.ID),
			Data: fmt.Sprintf("retry_ai:%d", e.ID),
		}})
	}
	text := fmt.Sprintf("tag cleaner: %d batch(es) failed, identity fallback in effect", len(pending))
	o.broadcast(ctx, text, buttons)
}

// broadcast sends admin text to every notifier, logging failures.
func (o *Orchestrator) broadcast(ctx context.Context, text string, buttons [][]notify.Button) {
	for _, n := range o.notifiers {
		if err := n.SendText(ctx, text, buttons); err != nil {
			o.log.Warn().Str("backend", n.Name()).Err(err).Msg("admin message failed")
		}
	}
}

// Callbacks returns the event hooks chat backends dispatch into.
func (o *Orchestrator) Callbacks() *notify.Callbacks {
	return &notify.Callbacks{
		React:   o.onReaction,
		Follow:  o.onFollow,
		Command: o.onCommand,
		RetryAI: o.onRetryAI,
	}
}

// onReaction applies feedback locally first, then mirrors to the
// platform in the background. Mirror failure warns but never rolls the
// local mutation back.
func (o *Orchestrator) onReaction(ctx context.Context, workID int64, action string) (string, error) {
	distinctive, dislikes, err := o.profiler.ApplyReaction(ctx, workID, action)
	if err != nil {
		return "", err
	}

	switch action {
	case store.ActionLike:
		go o.mirror(fmt.Sprintf("bookmark %d", workID), func(ctx context.Context) error {
			return o.platform.AddBookmark(ctx, workID, false)
		})
		return "liked, profile updated", nil
	case store.ActionDislike:
		if distinctive != "" {
			return fmt.Sprintf("disliked; %q now at %d dislike(s)", distinctive, dislikes), nil
		}
		return "disliked", nil
	default:
		return "noted", nil
	}
}

func (o *Orchestrator) onFollow(ctx context.Context, artistID int64) (string, error) {
	if err := o.platform.FollowUser(ctx, artistID); err != nil {
		return "", fmt.Errorf("follow %d: %w", artistID, err)
	}
	return fmt.Sprintf("following artist %d", artistID), nil
}

func (o *Orchestrator) onRetryAI(ctx context.Context, errorID int64) (string, error) {
	if err := o.retrier.Retry(ctx, errorID); err != nil {
		return "", fmt.Errorf("retry cleaner batch %d: %w", errorID, err)
	}
	return fmt.Sprintf("cleaner batch %d resolved", errorID), nil
}

// mirror runs one best-effort platform call off the callback path.
func (o *Orchestrator) mirror(desc string, call func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := call(ctx); err != nil {
		metrics.MirrorFailures.Inc()
		o.log.Warn().Str("op", desc).Err(err).Msg("platform mirror failed")
		o.broadcast(ctx, fmt.Sprintf("warning: platform mirror failed (%s): %v", desc, err), nil)
	}
}

// formatTags renders a tag weight list for chat output.
func formatTags(tags []store.TagWeight) string {
	if len(tags) == 0 {
		return "(empty profile)"
	}
	var lines []string
	for _, tw := range tags {
		lines = append(lines, fmt.Sprintf("%s  %.3f", tw.Tag, tw.Weight))
	}
	return strings.Join(lines, "\n")
}
