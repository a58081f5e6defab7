// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
	"database/sql"
	"errors"

	json "github.com/goccy/go-json"
)

// CacheWork stores a work's artist and raw tag list for later reaction
// resolution without a platform re-fetch.
func (s *Store) CacheWork(ctx context.Context, illustID, artistID int64, tags []string) error {
	blob, err := json.Marshal(tags)
	if err != nil {
		return &Error{Op: "cache work marshal", Err: err}
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO illust_cache (illust_id, artist_id, tags) VALUES (?, ?, ?)
		 ON CONFLICT (illust_id) DO UPDATE SET
		   artist_id = excluded.artist_id, tags = excluded.tags`,
		illustID, artistID, string(blob))
	if err != nil {
		return &Error{Op: "cache work", Err: err}
	}
	return nil
}

// CachedTags returns the cached raw tags for a work, or (nil, false, nil)
// when the work is not cached.
func (s *Store) CachedTags(ctx context.Context, illustID int64) ([]string, bool, error) {
	var blob string
	err := s.conn.QueryRowContext(ctx,
		"SELECT tags FROM illust_cache WHERE illust_id = ?", illustID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Op: "cached tags", Err: err}
	}

	var tags []string
	if err := json.Unmarshal([]byte(blob), &tags); err != nil {
		return nil, false, &Error{Op: "cached tags unmarshal", Err: err}
	}
	return tags, true, nil
}

// CachedArtist returns the cached artist id for a work, 0 when unknown.
func (s *Store) CachedArtist(ctx context.Context, illustID int64) (int64, error) {
	var artistID int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT artist_id FROM illust_cache WHERE illust_id = ?", illustID).Scan(&artistID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &Error{Op: "cached artist", Err: err}
	}
	return artistID, nil
}

// CleanCacheSnapshot loads the full raw -> canonical cleaner cache.
func (s *Store) CleanCacheSnapshot(ctx context.Context) (map[string]CleanEntry, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT raw, canonical FROM ai_tag_cache")
	if err != nil {
		return nil, &Error{Op: "clean cache snapshot", Err: err}
	}
	defer rows.Close()

	snapshot := make(map[string]CleanEntry)
	for rows.Next() {
		var raw string
		var canonical sql.NullString
		if err := rows.Scan(&raw, &canonical); err != nil {
			return nil, &Error{Op: "clean cache scan", Err: err}
		}
		snapshot[raw] = CleanEntry{Canonical: canonical.String, Filtered: !canonical.Valid}
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "clean cache rows", Err: err}
	}
	return snapshot, nil
}

// UpsertCleanCache writes cleaner verdicts. A nil value records the
// null sentinel meaning "filtered as meaningless".
func (s *Store) UpsertCleanCache(ctx context.Context, entries map[string]*string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "upsert clean cache begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	for raw, canonical := range entries {
		var value any
		if canonical != nil {
			value = *canonical
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ai_tag_cache (raw, canonical) VALUES (?, ?)
			 ON CONFLICT (raw) DO UPDATE SET canonical = excluded.canonical`,
			raw, value); err != nil {
			return &Error{Op: "upsert clean cache", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "upsert clean cache commit", Err: err}
	}
	return nil
}

// BestRawFor returns the raw tag most frequently observed mapping to the
// canonical tag, or "" when no mapping is known.
func (s *Store) BestRawFor(ctx context.Context, canonical string) (string, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT raw FROM tag_mapping_stats WHERE canonical = ?
		 ORDER BY freq DESC, raw ASC LIMIT 1`, canonical).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &Error{Op: "best raw for", Err: err}
	}
	return raw, nil
}

// BumpRawMapping increments the observation frequency of each raw ->
// canonical mapping.
func (s *Store) BumpRawMapping(ctx context.Context, rawToCanonical map[string]string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "bump raw mapping begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	for raw, canonical := range rawToCanonical {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tag_mapping_stats (canonical, raw, freq) VALUES (?, ?, 1)
			 ON CONFLICT (canonical, raw) DO UPDATE SET freq = tag_mapping_stats.freq + 1`,
			canonical, raw); err != nil {
			return &Error{Op: "bump raw mapping", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "bump raw mapping commit", Err: err}
	}
	return nil
}
