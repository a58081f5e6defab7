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

// SaveBookmarkScans upserts scanned bookmarks for an owner.
func (s *Store) SaveBookmarkScans(ctx context.Context, ownerID int64, scans []BookmarkScan) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "save bookmark scans begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	for _, scan := range scans {
		blob, err := json.Marshal(scan.Tags)
		if err != nil {
			return &Error{Op: "save bookmark scans marshal", Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO xp_bookmarks (illust_id, owner_id, tags, illust_created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (illust_id, owner_id) DO UPDATE SET
			   tags = excluded.tags,
			   illust_created_at = excluded.illust_created_at,
			   scanned_at = now()`,
			scan.IllustID, ownerID, string(blob), scan.IllustCreatedAt); err != nil {
			return &Error{Op: "save bookmark scans", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "save bookmark scans commit", Err: err}
	}
	return nil
}

// BookmarkScans returns all scanned bookmarks for an owner, newest work first.
func (s *Store) BookmarkScans(ctx context.Context, ownerID int64) ([]BookmarkScan, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT illust_id, owner_id, tags, illust_created_at, scanned_at
		 FROM xp_bookmarks WHERE owner_id = ?
		 ORDER BY illust_created_at DESC, illust_id DESC`, ownerID)
	if err != nil {
		return nil, &Error{Op: "bookmark scans", Err: err}
	}
	defer rows.Close()

	var scans []BookmarkScan
	for rows.Next() {
		var scan BookmarkScan
		var blob string
		var createdAt sql.NullTime
		if err := rows.Scan(&scan.IllustID, &scan.OwnerID, &blob, &createdAt, &scan.ScannedAt); err != nil {
			return nil, &Error{Op: "bookmark scans scan", Err: err}
		}
		if createdAt.Valid {
			scan.IllustCreatedAt = createdAt.Time
		}
		if err := json.Unmarshal([]byte(blob), &scan.Tags); err != nil {
			return nil, &Error{Op: "bookmark scans unmarshal", Err: err}
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "bookmark scans rows", Err: err}
	}
	return scans, nil
}

// GetState returns a system state value, "" when unset.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM system_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &Error{Op: "get state", Err: err}
	}
	return value, nil
}

// SetState upserts a system state value.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO system_state (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return &Error{Op: "set state", Err: err}
	}
	return nil
}
