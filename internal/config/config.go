// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package config defines the configuration tree for pixivpush and loads it
// with Koanf v2 from layered sources: built-in defaults, an optional YAML
// file, and environment variables (highest priority).
package config

import (
	"time"

	"github.com/pixivpush/pixivpush/internal/logging"
)

// Config is the root configuration for the daemon.
type Config struct {
	Pixiv     PixivConfig     `koanf:"pixiv"`
	Network   NetworkConfig   `koanf:"network"`
	Profiler  ProfilerConfig  `koanf:"profiler"`
	Fetcher   FetcherConfig   `koanf:"fetcher"`
	Filter    FilterConfig    `koanf:"filter"`
	Notifier  NotifierConfig  `koanf:"notifier"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Database  DatabaseConfig  `koanf:"database"`
	Web       WebConfig       `koanf:"web"`
	Logging   logging.Config  `koanf:"logging"`
}

// PixivConfig identifies the platform account the daemon works on behalf of.
type PixivConfig struct {
	UserID       int64  `koanf:"user_id" validate:"required,gt=0"`
	RefreshToken string `koanf:"refresh_token"`
}

// NetworkConfig tunes the outbound platform client.
type NetworkConfig struct {
	RequestsPerMinute int       `koanf:"requests_per_minute" validate:"gt=0"`
	RandomDelay       []float64 `koanf:"random_delay" validate:"len=2"`
	MaxConcurrency    int       `koanf:"max_concurrency" validate:"gt=0"`
}

// AIConfig points at the OpenAI-compatible tag cleaner.
type AIConfig struct {
	Endpoint    string `koanf:"endpoint"`
	Key         string `koanf:"key"`
	Model       string `koanf:"model"`
	BatchSize   int    `koanf:"batch_size" validate:"gt=0,lte=40"`
	Concurrency int    `koanf:"concurrency" validate:"gt=0"`
}

// ProfilerConfig controls taste-profile construction.
type ProfilerConfig struct {
	ScanLimit      int      `koanf:"scan_limit" validate:"gte=0"`
	IncludePrivate bool     `koanf:"include_private"`
	TopN           int      `koanf:"top_n" validate:"gt=0"`
	DiscoveryRate  float64  `koanf:"discovery_rate" validate:"gte=0,lte=1"`
	StopWords      []string `koanf:"stop_words"`
	DecayDays      float64  `koanf:"decay_days" validate:"gt=0"`
	LikeBoost      float64  `koanf:"like_boost" validate:"gte=0"`
	DislikePenalty float64  `koanf:"dislike_penalty" validate:"gte=0"`
	AI             AIConfig `koanf:"ai"`
}

// ThresholdConfig holds per-strategy minimum bookmark counts.
type ThresholdConfig struct {
	Search       int `koanf:"search" validate:"gte=0"`
	Subscription int `koanf:"subscription" validate:"gte=0"`
}

// RankingConfig controls the ranking pull strategy.
type RankingConfig struct {
	Enabled bool     `koanf:"enabled"`
	Modes   []string `koanf:"modes" validate:"dive,oneof=day week month day_male day_female week_original week_rookie day_r18 week_r18"`
	Limit   int      `koanf:"limit" validate:"gt=0"`
}

// MatchScoreConfig controls profile-match scoring in the filter sort.
type MatchScoreConfig struct {
	MinThreshold float64 `koanf:"min_threshold" validate:"gte=0,lte=1"`
	WeightInSort float64 `koanf:"weight_in_sort" validate:"gte=0,lte=1"`
}

// FetcherConfig controls candidate discovery.
type FetcherConfig struct {
	BookmarkThreshold ThresholdConfig  `koanf:"bookmark_threshold"`
	DateRangeDays     int              `koanf:"date_range_days" validate:"gt=0"`
	SubscribedArtists []int64          `koanf:"subscribed_artists"`
	DiscoveryLimit    int              `koanf:"discovery_limit" validate:"gt=0"`
	Ranking           RankingConfig    `koanf:"ranking"`
	MatchScore        MatchScoreConfig `koanf:"match_score"`
}

// Adult-content handling modes.
const (
	R18ModeMixed = "mixed"
	R18ModeSafe  = "safe"
	R18ModeOnly  = "r18_only"
)

// FilterConfig controls the exclusion and ranking pipeline.
type FilterConfig struct {
	BlacklistTags      []string `koanf:"blacklist_tags"`
	DailyLimit         int      `koanf:"daily_limit" validate:"gte=0"`
	ExcludeAI          bool     `koanf:"exclude_ai"`
	MaxPerArtist       int      `koanf:"max_per_artist" validate:"gt=0"`
	ArtistBoost        float64  `koanf:"artist_boost" validate:"gte=0"`
	MinCreateDays      int      `koanf:"min_create_days" validate:"gte=0"`
	R18Mode            string   `koanf:"r18_mode" validate:"oneof=mixed safe r18_only"`
	BlacklistThreshold int      `koanf:"blacklist_threshold" validate:"gte=1"`
}

// TelegramConfig configures the long-poll bot backend.
type TelegramConfig struct {
	BotToken       string  `koanf:"bot_token"`
	ChatIDs        []int64 `koanf:"chat_ids"`
	AllowedUsers   []int64 `koanf:"allowed_users"`
	ThreadID       int64   `koanf:"thread_id"`
	ProxyURL       string  `koanf:"proxy_url"`
	BatchMode      string  `koanf:"batch_mode" validate:"oneof=single telegraph"`
	MultiPageMode  string  `koanf:"multi_page_mode" validate:"oneof=album cover_link"`
	MaxPages       int     `koanf:"max_pages" validate:"gt=0"`
	ImageMaxSizePx int     `koanf:"image_max_size" validate:"gt=0"`
	ImageQuality   int     `koanf:"image_quality" validate:"gte=50,lte=100"`
	MessageMapSize int     `koanf:"message_map_size" validate:"gt=0"`
}

// OneBotConfig configures the websocket bot backend.
type OneBotConfig struct {
	WSURL         string `koanf:"ws_url"`
	PrivateID     int64  `koanf:"private_id"`
	GroupID       int64  `koanf:"group_id"`
	PushToPrivate bool   `koanf:"push_to_private"`
	PushToGroup   bool   `koanf:"push_to_group"`
	MasterID      int64  `koanf:"master_id"`
}

// NotifierConfig selects and configures chat backends.
type NotifierConfig struct {
	Types    []string       `koanf:"types" validate:"dive,oneof=telegram onebot"`
	Telegram TelegramConfig `koanf:"telegram"`
	OneBot   OneBotConfig   `koanf:"onebot"`
}

// SchedulerConfig controls periodic execution.
type SchedulerConfig struct {
	Cron     string `koanf:"cron"`
	Coalesce bool   `koanf:"coalesce"`
}

// DatabaseConfig locates the embedded store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"`
}

// WebConfig configures the optional admin HTTP surface.
type WebConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	AdminToken      string        `koanf:"admin_token"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gt=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Default returns a Config populated with every default value. File and
// environment layers override these.
func Default() *Config {
	return &Config{
		Pixiv: PixivConfig{},
		Network: NetworkConfig{
			RequestsPerMinute: 60,
			RandomDelay:       []float64{1.0, 3.0},
			MaxConcurrency:    5,
		},
		Profiler: ProfilerConfig{
			ScanLimit:      500,
			IncludePrivate: true,
			TopN:           20,
			DiscoveryRate:  0.1,
			DecayDays:      180,
			LikeBoost:      0.05,
			DislikePenalty: 0.05,
			AI: AIConfig{
				BatchSize:   40,
				Concurrency: 4,
			},
		},
		Fetcher: FetcherConfig{
			BookmarkThreshold: ThresholdConfig{Search: 1000, Subscription: 0},
			DateRangeDays:     7,
			DiscoveryLimit:    200,
			Ranking: RankingConfig{
				Enabled: false,
				Modes:   []string{"day"},
				Limit:   100,
			},
			MatchScore: MatchScoreConfig{
				MinThreshold: 0.0,
				WeightInSort: 0.5,
			},
		},
		Filter: FilterConfig{
			DailyLimit:         20,
			ExcludeAI:          true,
			MaxPerArtist:       3,
			ArtistBoost:        0.3,
			MinCreateDays:      0,
			R18Mode:            "mixed",
			BlacklistThreshold: 1,
		},
		Notifier: NotifierConfig{
			Telegram: TelegramConfig{
				BatchMode:      "single",
				MultiPageMode:  "album",
				MaxPages:       5,
				ImageMaxSizePx: 2560,
				ImageQuality:   87,
				MessageMapSize: 200,
			},
			OneBot: OneBotConfig{
				PushToPrivate: true,
			},
		},
		Scheduler: SchedulerConfig{
			Cron:     "0 12 * * *",
			Coalesce: true,
		},
		Database: DatabaseConfig{
			Path:      "data/pixivpush.duckdb",
			MaxMemory: "1GB",
		},
		Web: WebConfig{
			Host:            "127.0.0.1",
			Port:            8321,
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: logging.DefaultConfig(),
	}
}

// ApplyTestMode minimizes every expensive knob for --test runs: tiny scans,
// discovery off, thresholds zeroed, single-item limits.
func (c *Config) ApplyTestMode() {
	c.Profiler.ScanLimit = 10
	c.Profiler.DiscoveryRate = 0
	c.Fetcher.BookmarkThreshold = ThresholdConfig{}
	c.Fetcher.DiscoveryLimit = 1
	c.Fetcher.Ranking.Modes = []string{"day"}
	c.Fetcher.Ranking.Limit = 1
}
