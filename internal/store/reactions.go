// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
)

// RecordReaction records a user reaction. At most one reaction per work;
// a re-reaction overwrites the previous one.
func (s *Store) RecordReaction(ctx context.Context, illustID int64, action string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO feedback (illust_id, action) VALUES (?, ?)
		 ON CONFLICT (illust_id) DO UPDATE SET
		   action = excluded.action, created_at = now()`,
		illustID, action)
	if err != nil {
		return &Error{Op: "record reaction", Err: err}
	}
	return nil
}

// LikedIDs returns the ids of all liked works.
func (s *Store) LikedIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT illust_id FROM feedback WHERE action = ? ORDER BY illust_id", ActionLike)
	if err != nil {
		return nil, &Error{Op: "liked ids", Err: err}
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &Error{Op: "liked ids scan", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "liked ids rows", Err: err}
	}
	return ids, nil
}

// IncrementDislike bumps the dislike counter for a tag and returns the new
// count. Increments are monotonic; there is no decrement path.
func (s *Store) IncrementDislike(ctx context.Context, tag string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, &Error{Op: "increment dislike begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tag_blacklist (tag, dislike_count) VALUES (?, 1)
		 ON CONFLICT (tag) DO UPDATE SET dislike_count = tag_blacklist.dislike_count + 1`,
		tag); err != nil {
		return 0, &Error{Op: "increment dislike", Err: err}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT dislike_count FROM tag_blacklist WHERE tag = ?", tag).Scan(&count); err != nil {
		return 0, &Error{Op: "increment dislike read", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &Error{Op: "increment dislike commit", Err: err}
	}
	return count, nil
}

// Blacklist returns the tags whose dislike count has reached the threshold.
func (s *Store) Blacklist(ctx context.Context, threshold int) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT tag FROM tag_blacklist WHERE dislike_count >= ? ORDER BY tag", threshold)
	if err != nil {
		return nil, &Error{Op: "blacklist", Err: err}
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, &Error{Op: "blacklist scan", Err: err}
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "blacklist rows", Err: err}
	}
	return tags, nil
}

// RemoveFromBlacklist clears the dislike counter for a tag. Used by the
// /unblock chat command and the admin API.
func (s *Store) RemoveFromBlacklist(ctx context.Context, tag string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM tag_blacklist WHERE tag = ?", tag)
	if err != nil {
		return &Error{Op: "remove from blacklist", Err: err}
	}
	return nil
}
