// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
	"time"
)

// MuteTag suppresses a tag until the given time. Re-muting extends or
// shortens the window to the new expiry.
func (s *Store) MuteTag(ctx context.Context, tag string, until time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO tag_mute (tag, expires_at) VALUES (?, ?)
		 ON CONFLICT (tag) DO UPDATE SET expires_at = excluded.expires_at`,
		tag, until)
	if err != nil {
		return &Error{Op: "mute tag", Err: err}
	}
	return nil
}

// MutedTags returns the tags whose mute has not expired at now. Expired
// rows are pruned on the way.
func (s *Store) MutedTags(ctx context.Context, now time.Time) ([]string, error) {
	if _, err := s.conn.ExecContext(ctx,
		"DELETE FROM tag_mute WHERE expires_at <= ?", now); err != nil {
		return nil, &Error{Op: "prune mutes", Err: err}
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT tag FROM tag_mute WHERE expires_at > ? ORDER BY tag", now)
	if err != nil {
		return nil, &Error{Op: "muted tags", Err: err}
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, &Error{Op: "muted tags scan", Err: err}
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "muted tags rows", Err: err}
	}
	return tags, nil
}

// UnmuteTag lifts a mute early.
func (s *Store) UnmuteTag(ctx context.Context, tag string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM tag_mute WHERE tag = ?", tag)
	if err != nil {
		return &Error{Op: "unmute tag", Err: err}
	}
	return nil
}

// BlockArtist excludes every work by the artist from future pushes.
func (s *Store) BlockArtist(ctx context.Context, artistID int64) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO artist_blacklist (artist_id) VALUES (?)
		 ON CONFLICT (artist_id) DO NOTHING`, artistID)
	if err != nil {
		return &Error{Op: "block artist", Err: err}
	}
	return nil
}

// UnblockArtist removes an artist block.
func (s *Store) UnblockArtist(ctx context.Context, artistID int64) error {
	_, err := s.conn.ExecContext(ctx,
		"DELETE FROM artist_blacklist WHERE artist_id = ?", artistID)
	if err != nil {
		return &Error{Op: "unblock artist", Err: err}
	}
	return nil
}

// BlockedArtists returns all blocked artist ids.
func (s *Store) BlockedArtists(ctx context.Context) ([]int64, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT artist_id FROM artist_blacklist ORDER BY artist_id")
	if err != nil {
		return nil, &Error{Op: "blocked artists", Err: err}
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &Error{Op: "blocked artists scan", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "blocked artists rows", Err: err}
	}
	return ids, nil
}
