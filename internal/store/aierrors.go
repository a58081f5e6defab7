// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// LogAIError records a failed cleaner batch and returns the log id.
func (s *Store) LogAIError(ctx context.Context, rawTags []string, message string) (int64, error) {
	blob, err := json.Marshal(rawTags)
	if err != nil {
		return 0, &Error{Op: "log ai error marshal", Err: err}
	}

	var id int64
	err = s.conn.QueryRowContext(ctx,
		`INSERT INTO ai_error_logs (raw_tags, error) VALUES (?, ?) RETURNING id`,
		string(blob), message).Scan(&id)
	if err != nil {
		return 0, &Error{Op: "log ai error", Err: err}
	}
	return id, nil
}

// AIError loads one logged cleaner failure by id.
func (s *Store) AIError(ctx context.Context, id int64) (*AIErrorLog, error) {
	var entry AIErrorLog
	var blob string
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, raw_tags, error, status, created_at FROM ai_error_logs WHERE id = ?`,
		id).Scan(&entry.ID, &blob, &entry.Error, &entry.Status, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Op: "ai error", Err: fmt.Errorf("log %d not found", id)}
	}
	if err != nil {
		return nil, &Error{Op: "ai error", Err: err}
	}
	if err := json.Unmarshal([]byte(blob), &entry.RawTags); err != nil {
		return nil, &Error{Op: "ai error unmarshal", Err: err}
	}
	return &entry, nil
}

// SetAIErrorStatus flips the status of a logged failure.
func (s *Store) SetAIErrorStatus(ctx context.Context, id int64, status string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE ai_error_logs SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return &Error{Op: "set ai error status", Err: err}
	}
	return nil
}

// PendingAIErrors returns all unresolved cleaner failures, oldest first.
func (s *Store) PendingAIErrors(ctx context.Context) ([]AIErrorLog, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, raw_tags, error, status, created_at FROM ai_error_logs
		 WHERE status = ? ORDER BY id ASC`, AIErrorPending)
	if err != nil {
		return nil, &Error{Op: "pending ai errors", Err: err}
	}
	defer rows.Close()

	var entries []AIErrorLog
	for rows.Next() {
		var entry AIErrorLog
		var blob string
		if err := rows.Scan(&entry.ID, &blob, &entry.Error, &entry.Status, &entry.CreatedAt); err != nil {
			return nil, &Error{Op: "pending ai errors scan", Err: err}
		}
		if err := json.Unmarshal([]byte(blob), &entry.RawTags); err != nil {
			return nil, &Error{Op: "pending ai errors unmarshal", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "pending ai errors rows", Err: err}
	}
	return entries, nil
}
