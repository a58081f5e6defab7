// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package notify defines the chat-backend surface: delivery of ranked
// works, free-form admin messages, and the event callbacks that feed
// user reactions back into the profile.
package notify

import (
	"context"
	"fmt"

	"github.com/pixivpush/pixivpush/internal/pixiv"
)

// Button is one inline action offered with a message. Data carries the
// callback payload; URL buttons open a link instead.
type Button struct {
	Text string
	Data string
	URL  string
}

// Notifier delivers works and admin text through one chat backend.
type Notifier interface {
	Name() string
	// Send delivers the works in configured mode and returns the ids
	// that reached the backend. Partial success is normal.
	Send(ctx context.Context, works []pixiv.Illust) ([]int64, error)
	// SendText delivers a free-form message with optional buttons.
	SendText(ctx context.Context, text string, buttons [][]Button) error
	// Close stops the backend. Idempotent.
	Close() error
}

// Listener is implemented by backends that receive user events. Listen
// blocks until ctx is done; the supervisor restarts it on failure.
type Listener interface {
	Listen(ctx context.Context) error
}

// DeliveryError reports a per-work send failure without aborting the
// rest of the batch.
type DeliveryError struct {
	Backend string
	WorkID  int64
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: deliver work %d: %v", e.Backend, e.WorkID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Reply is a backend-agnostic command response.
type Reply struct {
	Text    string
	Buttons [][]Button
}

// Callbacks routes chat events into the application. Backends call
// these from their listener loops; nil fields mean the event is ignored.
type Callbacks struct {
	// React handles like/dislike/skip for one work and returns a short
	// acknowledgement for the chat UI.
	React func(ctx context.Context, workID int64, action string) (string, error)
	// Follow handles an open-author/follow request.
	Follow func(ctx context.Context, artistID int64) (string, error)
	// Command handles a slash command with its arguments.
	Command func(ctx context.Context, name string, args []string) (*Reply, error)
	// RetryAI re-runs a failed tag-cleaner batch by error id.
	RetryAI func(ctx context.Context, errorID int64) (string, error)
}
