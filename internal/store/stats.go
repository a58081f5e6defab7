// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

// PushStats aggregates push and reaction activity over the last days,
// joining push history to the work cache for author and tag breakdowns.
func (s *Store) PushStats(ctx context.Context, days int) (*PushStats, error) {
	stats := &PushStats{Days: days}
	cutoff := fmt.Sprintf("CURRENT_TIMESTAMP - INTERVAL %d DAY", days)

	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM push_history WHERE pushed_at >= "+cutoff).Scan(&stats.Pushed)
	if err != nil {
		return nil, &Error{Op: "push stats count", Err: err}
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE f.action = 'like'),
		   COUNT(*) FILTER (WHERE f.action = 'dislike')
		 FROM feedback f
		 JOIN push_history p ON p.illust_id = f.illust_id
		 WHERE p.pushed_at >= `+cutoff).Scan(&stats.Liked, &stats.Disliked)
	if err != nil {
		return nil, &Error{Op: "push stats reactions", Err: err}
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT c.artist_id, COUNT(*) AS n
		 FROM push_history p
		 JOIN illust_cache c ON c.illust_id = p.illust_id
		 WHERE p.pushed_at >= `+cutoff+` AND c.artist_id > 0
		 GROUP BY c.artist_id
		 ORDER BY n DESC, c.artist_id ASC LIMIT 5`)
	if err != nil {
		return nil, &Error{Op: "push stats authors", Err: err}
	}
	for rows.Next() {
		var ac AuthorCount
		if err := rows.Scan(&ac.ArtistID, &ac.Count); err != nil {
			rows.Close()
			return nil, &Error{Op: "push stats authors scan", Err: err}
		}
		stats.TopAuthors = append(stats.TopAuthors, ac)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &Error{Op: "push stats authors rows", Err: err}
	}
	rows.Close()

	// Tag breakdown counts each work's first five cached tags; full tag
	// lists would overweight tag-heavy works.
	rows, err = s.conn.QueryContext(ctx,
		`SELECT c.tags
		 FROM push_history p
		 JOIN illust_cache c ON c.illust_id = p.illust_id
		 WHERE p.pushed_at >= `+cutoff)
	if err != nil {
		return nil, &Error{Op: "push stats tags", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, &Error{Op: "push stats tags scan", Err: err}
		}
		var tags []string
		if err := json.Unmarshal([]byte(blob), &tags); err != nil {
			continue
		}
		for i, tag := range tags {
			if i >= 5 {
				break
			}
			counts[tag]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "push stats tags rows", Err: err}
	}

	stats.TopTags = topTagCounts(counts, 10)
	return stats, nil
}

// topTagCounts picks the n most frequent tags, count desc then tag asc.
func topTagCounts(counts map[string]int, n int) []TagCount {
	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
