// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package store is the single durable authority for pixivpush: taste
// profile, push history, reactions, caches, and sync state, persisted in an
// embedded DuckDB file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
)

// Store wraps the DuckDB connection and provides typed data access.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
	log  zerolog.Logger
}

// Open opens (creating if necessary) the database file and ensures the
// schema exists. The parent directory is created when missing.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}

	s := &Store{
		conn: conn,
		cfg:  cfg,
		log:  logging.Component("store"),
	}

	if err := s.createSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.log.Info().Str("path", cfg.Path).Msg("store opened")
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return &Error{Op: "ping", Err: err}
	}
	return nil
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSchema creates all tables idempotently.
func (s *Store) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS ai_error_seq START 1`,

		`CREATE TABLE IF NOT EXISTS push_history (
			illust_id BIGINT PRIMARY KEY,
			pushed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			source TEXT NOT NULL DEFAULT 'search'
		)`,

		`CREATE TABLE IF NOT EXISTS xp_profile (
			tag TEXT PRIMARY KEY,
			weight DOUBLE NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// tag_a < tag_b lexicographically, enforced by callers.
		`CREATE TABLE IF NOT EXISTS xp_tag_pairs (
			tag_a TEXT NOT NULL,
			tag_b TEXT NOT NULL,
			weight DOUBLE NOT NULL,
			PRIMARY KEY (tag_a, tag_b)
		)`,

		`CREATE TABLE IF NOT EXISTS feedback (
			illust_id BIGINT PRIMARY KEY,
			action TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS tag_blacklist (
			tag TEXT PRIMARY KEY,
			dislike_count INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS tag_mute (
			tag TEXT PRIMARY KEY,
			expires_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS artist_blacklist (
			artist_id BIGINT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// tags is a JSON array of raw tag names.
		`CREATE TABLE IF NOT EXISTS illust_cache (
			illust_id BIGINT PRIMARY KEY,
			artist_id BIGINT NOT NULL DEFAULT 0,
			tags TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS xp_bookmarks (
			illust_id BIGINT NOT NULL,
			owner_id BIGINT NOT NULL,
			tags TEXT NOT NULL,
			illust_created_at TIMESTAMP,
			scanned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (illust_id, owner_id)
		)`,

		`CREATE TABLE IF NOT EXISTS system_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tag_mapping_stats (
			canonical TEXT NOT NULL,
			raw TEXT NOT NULL,
			freq INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (canonical, raw)
		)`,

		// canonical NULL means the cleaner filtered the raw tag as
		// meaningless; the NULL is remembered to avoid re-queries.
		`CREATE TABLE IF NOT EXISTS ai_tag_cache (
			raw TEXT PRIMARY KEY,
			canonical TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS ai_error_logs (
			id BIGINT PRIMARY KEY DEFAULT nextval('ai_error_seq'),
			raw_tags TEXT NOT NULL,
			error TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return &Error{Op: "create schema", Err: fmt.Errorf("%s: %w", query, err)}
		}
	}
	return nil
}

// ResetProfileData truncates the rebuildable taste-profile tables: profile,
// pairs, raw-mapping stats, and cleaner error logs. Push history, feedback,
// blacklist, and caches are retained.
func (s *Store) ResetProfileData(ctx context.Context) error {
	for _, table := range []string{"xp_profile", "xp_tag_pairs", "tag_mapping_stats", "ai_error_logs"} {
		if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &Error{Op: "reset " + table, Err: err}
		}
	}
	s.log.Info().Msg("profile data reset")
	return nil
}
