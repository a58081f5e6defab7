// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// NewSlogLogger bridges the global zerolog logger into *slog.Logger for
// libraries that speak slog (the supervisor's restart logging).
func NewSlogLogger() *slog.Logger {
	return slog.New(&slogBridge{})
}

type slogBridge struct {
	attrs []slog.Attr
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return zerologLevel(level) >= Logger().GetLevel()
}

func (b *slogBridge) Handle(_ context.Context, record slog.Record) error {
	l := Logger()
	event := l.WithLevel(zerologLevel(record.Level))
	for _, attr := range b.attrs {
		event = event.Interface(attr.Key, attr.Value.Any())
	}
	record.Attrs(func(attr slog.Attr) bool {
		event = event.Interface(attr.Key, attr.Value.Any())
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), b.attrs...), attrs...)
	return &slogBridge{attrs: merged}
}

func (b *slogBridge) WithGroup(string) slog.Handler {
	return b
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
