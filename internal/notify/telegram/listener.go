// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pixivpush/pixivpush/internal/store"
)

// longPollSec is the getUpdates hold time.
const longPollSec = 50

// Listen runs the long-poll loop until ctx is done. Poll errors back
// off and retry; the loop only exits through the context.
func (n *Notifier) Listen(ctx context.Context) error {
	var offset int64
	n.log.Info().Msg("telegram listener started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := n.api.getUpdates(ctx, offset, longPollSec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn().Err(err).Msg("poll failed")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			n.handleUpdate(ctx, u)
		}
	}
}

func (n *Notifier) handleUpdate(ctx context.Context, u update) {
	switch {
	case u.CallbackQuery != nil:
		n.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		n.handleMessage(ctx, u.Message)
	}
}

// authorized applies the allow-list. An empty list admits everyone in
// the configured chats; unauthorized events are silently ignored.
func (n *Notifier) authorized(from *user) bool {
	if from == nil {
		return false
	}
	if len(n.cfg.AllowedUsers) == 0 {
		return true
	}
	for _, id := range n.cfg.AllowedUsers {
		if id == from.ID {
			return true
		}
	}
	return false
}

func (n *Notifier) handleCallback(ctx context.Context, q *callbackQuery) {
	if !n.authorized(q.From) {
		return
	}
	ack, err := n.dispatchCallback(ctx, q)
	if err != nil {
		n.log.Error().Str("data", q.Data).Err(err).Msg("callback failed")
		ack = "failed: " + err.Error()
	}
	if err := n.api.answerCallbackQuery(ctx, q.ID, ack); err != nil {
		n.log.Warn().Err(err).Msg("answer callback failed")
	}
}

func (n *Notifier) dispatchCallback(ctx context.Context, q *callbackQuery) (string, error) {
	action, arg, _ := strings.Cut(q.Data, ":")

	switch action {
	case "like", "dislike":
		if n.callbacks.React == nil {
			return "", nil
		}
		workID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad work id %q", arg)
		}
		return n.callbacks.React(ctx, workID, action)

	case "follow":
		if n.callbacks.Follow == nil {
			return "", nil
		}
		artistID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad artist id %q", arg)
		}
		return n.callbacks.Follow(ctx, artistID)

	case "retry_ai":
		if n.callbacks.RetryAI == nil {
			return "", nil
		}
		errorID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return "", fmt.Errorf("bad error id %q", arg)
		}
		return n.callbacks.RetryAI(ctx, errorID)

	case "batch_like":
		return n.showBatchSelector(ctx, q, store.ActionLike)
	case "batch_dislike":
		return n.showBatchSelector(ctx, q, store.ActionDislike)
	case "batch_sel":
		return n.batchSelect(ctx, arg)
	case "batch_all":
		return n.batchAll(ctx, arg)
	case "batch_cancel":
		if q.Message != nil {
			_ = n.api.editMessageReplyMarkup(ctx, q.Message.Chat.ID, q.Message.MessageID, nil)
		}
		return "cancelled", nil
	}
	return "", nil
}

// showBatchSelector replaces the summary keyboard with a numbered
// per-work selector for the chosen bulk action.
func (n *Notifier) showBatchSelector(ctx context.Context, q *callbackQuery, action string) (string, error) {
	n.mu.Lock()
	batch := append([]int64(nil), n.lastBatch...)
	n.mu.Unlock()
	if len(batch) == 0 {
		return "no active batch", nil
	}
	if q.Message == nil {
		return "", nil
	}

	var rows [][]keyboardButton
	var row []keyboardButton
	for i := range batch {
		row = append(row, keyboardButton{
			Text:         strconv.Itoa(i + 1),
			CallbackData: fmt.Sprintf("batch_sel:%s:%d", action, i),
		})
		if len(row) == 5 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []keyboardButton{
		{Text: "all", CallbackData: "batch_all:" + action},
		{Text: "cancel", CallbackData: "batch_cancel"},
	})

	err := n.api.editMessageReplyMarkup(ctx, q.Message.Chat.ID, q.Message.MessageID,
		&keyboard{InlineKeyboard: rows})
	if err != nil {
		return "", err
	}
	return "pick works to " + action, nil
}

// batchSelect applies one bulk action to a single indexed work.
func (n *Notifier) batchSelect(ctx context.Context, arg string) (string, error) {
	action, idxStr, ok := strings.Cut(arg, ":")
	if !ok || n.callbacks.React == nil {
		return "", nil
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return "", fmt.Errorf("bad batch index %q", idxStr)
	}

	n.mu.Lock()
	batch := append([]int64(nil), n.lastBatch...)
	n.mu.Unlock()
	if idx < 0 || idx >= len(batch) {
		return "stale batch", nil
	}
	return n.callbacks.React(ctx, batch[idx], action)
}

// batchAll applies one bulk action to the whole last batch.
func (n *Notifier) batchAll(ctx context.Context, action string) (string, error) {
	if n.callbacks.React == nil {
		return "", nil
	}
	n.mu.Lock()
	batch := append([]int64(nil), n.lastBatch...)
	n.mu.Unlock()
	if len(batch) == 0 {
		return "no active batch", nil
	}

	applied := 0
	for _, workID := range batch {
		if _, err := n.callbacks.React(ctx, workID, action); err != nil {
			n.log.Warn().Int64("illust_id", workID).Err(err).Msg("batch reaction failed")
			continue
		}
		applied++
	}
	return fmt.Sprintf("%s applied to %d works", action, applied), nil
}

func (n *Notifier) handleMessage(ctx context.Context, m *message) {
	if !n.authorized(m.From) {
		return
	}
	text := strings.TrimSpace(m.Text)

	if strings.HasPrefix(text, "/") {
		n.handleCommand(ctx, m, text)
		return
	}

	// Numeric reply feedback: replying "1" likes, "2" dislikes.
	if m.ReplyTo != nil && (text == "1" || text == "2") && n.callbacks.React != nil {
		workID, ok := n.tracker.lookup(m.ReplyTo.MessageID)
		if !ok {
			return
		}
		action := store.ActionLike
		if text == "2" {
			action = store.ActionDislike
		}
		ack, err := n.callbacks.React(ctx, workID, action)
		if err != nil {
			n.log.Error().Int64("illust_id", workID).Err(err).Msg("reply reaction failed")
			return
		}
		if ack != "" {
			_, _ = n.api.sendMessage(ctx, m.Chat.ID, n.cfg.ThreadID, ack, nil)
		}
	}
}

func (n *Notifier) handleCommand(ctx context.Context, m *message, text string) {
	if n.callbacks.Command == nil {
		return
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	// Group chats suffix commands with the bot name.
	name, _, _ = strings.Cut(name, "@")

	reply, err := n.callbacks.Command(ctx, name, fields[1:])
	if err != nil {
		n.log.Error().Str("command", name).Err(err).Msg("command failed")
		_, _ = n.api.sendMessage(ctx, m.Chat.ID, n.cfg.ThreadID, "command failed: "+err.Error(), nil)
		return
	}
	if reply == nil {
		return
	}
	if _, err := n.api.sendMessage(ctx, m.Chat.ID, n.cfg.ThreadID, reply.Text, toKeyboard(reply.Buttons)); err != nil {
		n.log.Warn().Str("command", name).Err(err).Msg("reply failed")
	}
}
