// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
)

// IsPushed reports whether the work was ever pushed.
func (s *Store) IsPushed(ctx context.Context, illustID int64) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM push_history WHERE illust_id = ?", illustID).Scan(&n)
	if err != nil {
		return false, &Error{Op: "is pushed", Err: err}
	}
	return n > 0, nil
}

// MarkPushed records a push. A repeated call for the same work is a no-op:
// the first source attribution wins and no duplicate history row is written.
func (s *Store) MarkPushed(ctx context.Context, illustID int64, source string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO push_history (illust_id, source) VALUES (?, ?)
		 ON CONFLICT (illust_id) DO NOTHING`, illustID, source)
	if err != nil {
		return &Error{Op: "mark pushed", Err: err}
	}
	return nil
}

// PushedAmong returns the subset of ids that already have a push record.
// Used by the filter to drop duplicates in one round trip.
func (s *Store) PushedAmong(ctx context.Context, ids []int64) (map[int64]bool, error) {
	pushed := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return pushed, nil
	}

	// DuckDB has no array bind for IN; probe in chunks of placeholders.
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		part := ids[start:end]

		query := "SELECT illust_id FROM push_history WHERE illust_id IN ("
		args := make([]any, len(part))
		for i, id := range part {
			if i > 0 {
				query += ","
			}
			query += "?"
			args[i] = id
		}
		query += ")"

		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, &Error{Op: "pushed among", Err: err}
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, &Error{Op: "pushed among scan", Err: err}
			}
			pushed[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, &Error{Op: "pushed among rows", Err: err}
		}
		rows.Close()
	}
	return pushed, nil
}
