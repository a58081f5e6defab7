// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package tagnorm

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
	"github.com/pixivpush/pixivpush/internal/store"
)

// CacheStore is the store surface the normalizer needs.
type CacheStore interface {
	CleanCacheSnapshot(ctx context.Context) (map[string]store.CleanEntry, error)
	UpsertCleanCache(ctx context.Context, entries map[string]*string) error
	LogAIError(ctx context.Context, rawTags []string, message string) (int64, error)
	AIError(ctx context.Context, id int64) (*store.AIErrorLog, error)
	SetAIErrorStatus(ctx context.Context, id int64, status string) error
}

// Normalizer canonicalizes raw tags: lowercase/underscore pre-pass,
// stopword removal, then a cache-first cleaner lookup. Cleaner misses are
// batched (bounded size and concurrency); a failed batch is logged and
// falls back to identity so normalization is never blocked.
type Normalizer struct {
	store       CacheStore
	cleaner     Cleaner
	stopwords   map[string]bool
	batchSize   int
	concurrency int
	log         zerolog.Logger

	mu    sync.Mutex
	cache map[string]store.CleanEntry
}

// New builds a Normalizer. The in-memory cache is hydrated lazily from the
// store on first use.
func New(cacheStore CacheStore, cleaner Cleaner, stopwords []string, batchSize, concurrency int) *Normalizer {
	if batchSize <= 0 || batchSize > 40 {
		batchSize = 40
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	sw := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		sw[preNormalize(w)] = true
	}
	return &Normalizer{
		store:       cacheStore,
		cleaner:     cleaner,
		stopwords:   sw,
		batchSize:   batchSize,
		concurrency: concurrency,
		log:         logging.Component("tagnorm"),
	}
}

// preNormalize lowercases, trims, and joins words with underscores.
func preNormalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(s), "_")
}

// ensureCache hydrates the in-memory cache from the store once.
func (n *Normalizer) ensureCache(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cache != nil {
		return nil
	}
	snapshot, err := n.store.CleanCacheSnapshot(ctx)
	if err != nil {
		return err
	}
	n.cache = snapshot
	metrics.CleanerCacheSize.Set(float64(len(snapshot)))
	return nil
}

// Normalize returns the cleaned, canonicalized, deduplicated tag list and
// the raw -> canonical mapping for frequency stats. Deterministic given
// cache state; idempotent with respect to the cache.
func (n *Normalizer) Normalize(ctx context.Context, raw []string) ([]string, map[string]string, error) {
	if err := n.ensureCache(ctx); err != nil {
		return nil, nil, err
	}

	// Pre-pass: normalize text form, drop stopwords and empties.
	type item struct {
		raw  string
		pre  string
	}
	items := make([]item, 0, len(raw))
	for _, r := range raw {
		pre := preNormalize(r)
		if pre == "" || n.stopwords[pre] {
			continue
		}
		items = append(items, item{raw: r, pre: pre})
	}

	// Collect cache misses, preserving first-seen order.
	n.mu.Lock()
	var misses []string
	seen := make(map[string]bool)
	for _, it := range items {
		if _, ok := n.cache[it.pre]; !ok && !seen[it.pre] {
			seen[it.pre] = true
			misses = append(misses, it.pre)
		}
	}
	n.mu.Unlock()

	if len(misses) > 0 {
		n.cleanMisses(ctx, misses)
	} else if len(items) > 0 {
		metrics.CleanerBatches.WithLabelValues("cached").Inc()
	}

	// Assemble results from the now-complete cache.
	n.mu.Lock()
	defer n.mu.Unlock()

	var cleaned []string
	mapping := make(map[string]string)
	dedup := make(map[string]bool)
	for _, it := range items {
		entry, ok := n.cache[it.pre]
		if !ok || entry.Filtered {
			continue
		}
		canonical := entry.Canonical
		mapping[it.raw] = canonical
		if !dedup[canonical] {
			dedup[canonical] = true
			cleaned = append(cleaned, canonical)
		}
	}
	return cleaned, mapping, nil
}

// cleanMisses resolves uncached tags through the cleaner in bounded
// batches. Failures are logged to the error table and fall back to
// identity mapping.
func (n *Normalizer) cleanMisses(ctx context.Context, misses []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)

	for start := 0; start < len(misses); start += n.batchSize {
		end := min(start+n.batchSize, len(misses))
		batch := misses[start:end]

		g.Go(func() error {
			verdicts, err := n.cleaner.Clean(gctx, batch)
			if err != nil {
				metrics.CleanerBatches.WithLabelValues("error").Inc()
				if _, logErr := n.store.LogAIError(ctx, batch, err.Error()); logErr != nil {
					n.log.Error().Err(logErr).Msg("failed to log cleaner error")
				}
				n.log.Warn().Err(err).Int("tags", len(batch)).
					Msg("cleaner batch failed, identity fallback")
				n.applyIdentity(batch)
				return nil
			}
			metrics.CleanerBatches.WithLabelValues("ok").Inc()
			n.applyVerdicts(ctx, batch, verdicts)
			return nil
		})
	}
	_ = g.Wait()
}

// applyVerdicts folds cleaner verdicts into memory and the store cache.
// Tags the cleaner did not answer for keep their identity form.
func (n *Normalizer) applyVerdicts(ctx context.Context, batch []string, verdicts map[string]*string) {
	entries := make(map[string]*string, len(batch))
	for _, pre := range batch {
		verdict, ok := verdicts[pre]
		switch {
		case !ok:
			identity := pre
			entries[pre] = &identity
		case verdict == nil:
			entries[pre] = nil
		default:
			canonical := preNormalize(*verdict)
			if canonical == "" {
				entries[pre] = nil
			} else {
				entries[pre] = &canonical
			}
		}
	}

	if err := n.store.UpsertCleanCache(ctx, entries); err != nil {
		n.log.Error().Err(err).Msg("failed to persist clean cache entries")
	}

	n.mu.Lock()
	for pre, canonical := range entries {
		if canonical == nil {
			n.cache[pre] = store.CleanEntry{Filtered: true}
		} else {
			n.cache[pre] = store.CleanEntry{Canonical: *canonical}
		}
	}
	metrics.CleanerCacheSize.Set(float64(len(n.cache)))
	n.mu.Unlock()
}

// applyIdentity records identity mappings in memory only: a later run
// should retry the cleaner rather than inherit the fallback forever.
func (n *Normalizer) applyIdentity(batch []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, pre := range batch {
		if _, ok := n.cache[pre]; !ok {
			n.cache[pre] = store.CleanEntry{Canonical: pre}
		}
	}
}

// Retry replays a logged cleaner failure and flips its status to resolved
// on success.
func (n *Normalizer) Retry(ctx context.Context, errorID int64) error {
	entry, err := n.store.AIError(ctx, errorID)
	if err != nil {
		return err
	}

	verdicts, err := n.cleaner.Clean(ctx, entry.RawTags)
	if err != nil {
		return err
	}
	if hydrateErr := n.ensureCache(ctx); hydrateErr != nil {
		return hydrateErr
	}

	n.applyVerdicts(ctx, entry.RawTags, verdicts)
	metrics.CleanerBatches.WithLabelValues("ok").Inc()
	return n.store.SetAIErrorStatus(ctx, errorID, store.AIErrorResolved)
}
