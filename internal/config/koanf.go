// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched when no path is
// given. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pixivpush/config.yaml",
	"/etc/pixivpush/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "PIXIVPUSH_CONFIG"

// envPrefix scopes environment overrides, e.g. PIXIVPUSH_PIXIV_REFRESH_TOKEN.
const envPrefix = "PIXIVPUSH_"

// Load builds the configuration from three layers: struct defaults, an
// optional YAML file (explicit path, PIXIVPUSH_CONFIG, or the default
// search list), and PIXIVPUSH_* environment variables on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// resolveConfigPath picks the config file. An explicitly given path must
// exist; the env var and default search paths are optional.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("config file %s (from %s): %w", envPath, ConfigPathEnvVar, err)
		}
		return envPath, nil
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envTransformFunc maps PIXIVPUSH_* variable names to koanf paths. Single
// underscores separate path segments; a double underscore keeps a literal
// underscore inside a key:
//
//	PIXIVPUSH_PIXIV_REFRESH__TOKEN -> pixiv.refresh_token
//	PIXIVPUSH_SCHEDULER_CRON       -> scheduler.cron
//
// Common keys that would be ambiguous under that rule are mapped explicitly.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	explicit := map[string]string{
		"pixiv_user_id":               "pixiv.user_id",
		"pixiv_refresh_token":         "pixiv.refresh_token",
		"database_path":               "database.path",
		"scheduler_cron":              "scheduler.cron",
		"web_admin_token":             "web.admin_token",
		"profiler_ai_endpoint":        "profiler.ai.endpoint",
		"profiler_ai_key":             "profiler.ai.key",
		"profiler_ai_model":           "profiler.ai.model",
		"notifier_telegram_bot_token": "notifier.telegram.bot_token",
		"notifier_onebot_ws_url":      "notifier.onebot.ws_url",
		"logging_level":               "logging.level",
		"logging_format":              "logging.format",
	}
	if path, ok := explicit[key]; ok {
		return path
	}

	key = strings.ReplaceAll(key, "__", "\x00")
	key = strings.ReplaceAll(key, "_", ".")
	return strings.ReplaceAll(key, "\x00", "_")
}
