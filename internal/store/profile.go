// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
)

// GetProfile returns the full taste profile as canonical tag -> weight.
func (s *Store) GetProfile(ctx context.Context) (map[string]float64, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT tag, weight FROM xp_profile")
	if err != nil {
		return nil, &Error{Op: "get profile", Err: err}
	}
	defer rows.Close()

	profile := make(map[string]float64)
	for rows.Next() {
		var tag string
		var weight float64
		if err := rows.Scan(&tag, &weight); err != nil {
			return nil, &Error{Op: "get profile scan", Err: err}
		}
		profile[tag] = weight
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "get profile rows", Err: err}
	}
	return profile, nil
}

// ReplaceProfile atomically replaces the profile table with the given map.
func (s *Store) ReplaceProfile(ctx context.Context, profile map[string]float64) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "replace profile begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM xp_profile"); err != nil {
		return &Error{Op: "replace profile truncate", Err: err}
	}
	for tag, weight := range profile {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO xp_profile (tag, weight) VALUES (?, ?)", tag, weight); err != nil {
			return &Error{Op: "replace profile insert", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "replace profile commit", Err: err}
	}
	return nil
}

// AdjustWeight applies an additive delta to one tag, inserting it when
// absent. The result is clamped at zero.
func (s *Store) AdjustWeight(ctx context.Context, tag string, delta float64) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO xp_profile (tag, weight, updated_at)
		 VALUES (?, GREATEST(0, ?), CURRENT_TIMESTAMP)
		 ON CONFLICT (tag) DO UPDATE SET
		   weight = GREATEST(0, xp_profile.weight + ?),
		   updated_at = now()`, tag, delta, delta)
	if err != nil {
		return &Error{Op: "adjust weight", Err: err}
	}
	return nil
}

// TopTags returns the n heaviest profile entries, weight desc then tag asc.
// Zero-weight entries are excluded.
func (s *Store) TopTags(ctx context.Context, n int) ([]TagWeight, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT tag, weight FROM xp_profile WHERE weight > 0
		 ORDER BY weight DESC, tag ASC LIMIT ?`, n)
	if err != nil {
		return nil, &Error{Op: "top tags", Err: err}
	}
	defer rows.Close()

	var out []TagWeight
	for rows.Next() {
		var tw TagWeight
		if err := rows.Scan(&tw.Tag, &tw.Weight); err != nil {
			return nil, &Error{Op: "top tags scan", Err: err}
		}
		out = append(out, tw)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "top tags rows", Err: err}
	}
	return out, nil
}

// GetTopPairs returns the k heaviest co-occurrence pairs, weight descending.
func (s *Store) GetTopPairs(ctx context.Context, k int) ([]Pair, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT tag_a, tag_b, weight FROM xp_tag_pairs
		 ORDER BY weight DESC, tag_a ASC, tag_b ASC LIMIT ?`, k)
	if err != nil {
		return nil, &Error{Op: "top pairs", Err: err}
	}
	defer rows.Close()

	var out []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.TagA, &p.TagB, &p.Weight); err != nil {
			return nil, &Error{Op: "top pairs scan", Err: err}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "top pairs rows", Err: err}
	}
	return out, nil
}

// ReplacePairs atomically replaces the co-occurrence table.
func (s *Store) ReplacePairs(ctx context.Context, pairs []Pair) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "replace pairs begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM xp_tag_pairs"); err != nil {
		return &Error{Op: "replace pairs truncate", Err: err}
	}
	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO xp_tag_pairs (tag_a, tag_b, weight) VALUES (?, ?, ?)",
			p.TagA, p.TagB, p.Weight); err != nil {
			return &Error{Op: "replace pairs insert", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "replace pairs commit", Err: err}
	}
	return nil
}
