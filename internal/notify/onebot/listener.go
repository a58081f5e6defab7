// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package onebot

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/pixivpush/pixivpush/internal/store"
)

// feedbackPattern matches "N 1" (like) and "N 2" (dislike) replies
// against the numbered works of the last push.
var feedbackPattern = regexp.MustCompile(`^(\d+)\s+([12])$`)

// Listen dials the implementation and runs the read loop until ctx is
// done or the connection drops; the supervisor handles reconnects by
// restarting the service.
func (b *Bot) Listen(ctx context.Context) error {
	c, err := dial(ctx, b.cfg.WSURL, b.log)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return c.close()
	}
	b.conn = c
	b.mu.Unlock()
	b.log.Info().Str("url", b.cfg.WSURL).Msg("onebot connected")

	defer func() {
		b.mu.Lock()
		if b.conn == c {
			b.conn = nil
		}
		b.mu.Unlock()
		_ = c.close()
	}()

	done := make(chan error, 1)
	go func() {
		done <- c.readLoop(func(frame incomingFrame) {
			b.handleEvent(ctx, frame)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// authorized restricts feedback and commands to the master account.
func (b *Bot) authorized(userID int64) bool {
	return b.cfg.MasterID != 0 && userID == b.cfg.MasterID
}

func (b *Bot) handleEvent(ctx context.Context, frame incomingFrame) {
	if frame.PostType != "message" || !b.authorized(frame.UserID) {
		return
	}
	text := strings.TrimSpace(frame.RawMessage)

	switch {
	case strings.HasPrefix(text, "/"):
		b.handleCommand(ctx, frame, text)
	case feedbackPattern.MatchString(text):
		b.handleFeedback(ctx, frame, text)
	}
}

func (b *Bot) handleFeedback(ctx context.Context, frame incomingFrame, text string) {
	if b.callbacks.React == nil {
		return
	}
	m := feedbackPattern.FindStringSubmatch(text)
	index, _ := strconv.Atoi(m[1])
	action := store.ActionLike
	if m[2] == "2" {
		action = store.ActionDislike
	}

	b.mu.Lock()
	batch := append([]int64(nil), b.lastBatch...)
	b.mu.Unlock()
	if index < 1 || index > len(batch) {
		b.reply(ctx, frame, "no such work in the last push")
		return
	}

	ack, err := b.callbacks.React(ctx, batch[index-1], action)
	if err != nil {
		b.log.Error().Int64("illust_id", batch[index-1]).Err(err).Msg("reaction failed")
		b.reply(ctx, frame, "failed: "+err.Error())
		return
	}
	if ack != "" {
		b.reply(ctx, frame, ack)
	}
}

func (b *Bot) handleCommand(ctx context.Context, frame incomingFrame, text string) {
	if b.callbacks.Command == nil {
		return
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")

	reply, err := b.callbacks.Command(ctx, name, fields[1:])
	if err != nil {
		b.log.Error().Str("command", name).Err(err).Msg("command failed")
		b.reply(ctx, frame, "command failed: "+err.Error())
		return
	}
	if reply == nil {
		return
	}
	out := reply.Text
	for _, row := range reply.Buttons {
		for _, btn := range row {
			if btn.Data != "" {
				out += "\n- " + btn.Text + ": send \"" + btn.Data + "\""
			}
		}
	}
	b.reply(ctx, frame, out)
}

// reply answers in the channel the event arrived on.
func (b *Bot) reply(ctx context.Context, frame incomingFrame, text string) {
	c, err := b.current()
	if err != nil {
		return
	}
	if frame.MessageType == "group" && frame.GroupID != 0 {
		_, err = c.do(ctx, "send_group_msg", map[string]any{
			"group_id": frame.GroupID, "message": text,
		})
	} else {
		_, err = c.do(ctx, "send_private_msg", map[string]any{
			"user_id": frame.UserID, "message": text,
		})
	}
	if err != nil {
		b.log.Warn().Err(err).Msg("reply failed")
	}
}
