// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlogBridgeWritesThroughGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger := NewSlogLogger()
	logger.Info("service restarted", "service", "scheduler")

	out := buf.String()
	assert.Contains(t, out, `"message":"service restarted"`)
	assert.Contains(t, out, `"service":"scheduler"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestSlogBridgeCarriesBoundAttrs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger := NewSlogLogger().With("tree", "pipeline")
	logger.Warn("restarting", "attempt", 2)

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"tree":"pipeline"`)
	assert.Contains(t, out, `"attempt":2`)
}

func TestSlogBridgeHonorsGlobalLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	logger := NewSlogLogger()
	logger.Info("quiet")
	logger.Error("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}
