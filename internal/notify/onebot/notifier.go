// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package onebot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
	"github.com/pixivpush/pixivpush/internal/notify"
	"github.com/pixivpush/pixivpush/internal/pixiv"
)

// ImageSource downloads artwork bytes for inline embedding.
type ImageSource interface {
	DownloadImage(ctx context.Context, imageURL string) ([]byte, error)
}

// Bot is the websocket backend. It serves as Notifier and Listener; the
// connection is owned by Listen and Send fails while disconnected.
type Bot struct {
	cfg       *config.OneBotConfig
	images    ImageSource
	callbacks *notify.Callbacks
	log       zerolog.Logger

	mu        sync.Mutex
	conn      *conn
	lastBatch []int64
	closed    bool
}

// New builds the OneBot backend.
func New(cfg *config.OneBotConfig, images ImageSource, callbacks *notify.Callbacks) *Bot {
	return &Bot{
		cfg:       cfg,
		images:    images,
		callbacks: callbacks,
		log:       logging.Component("notify.onebot"),
	}
}

func (b *Bot) Name() string { return "onebot" }

func (b *Bot) current() (*conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, fmt.Errorf("onebot: not connected")
	}
	return b.conn, nil
}

// Send delivers works to the configured targets. Group delivery prefers
// one forward message; per-work fallback runs when that fails. The
// numbered prefix feeds the "N 1|2" reply feedback.
func (b *Bot) Send(ctx context.Context, works []pixiv.Illust) ([]int64, error) {
	if len(works) == 0 {
		return nil, nil
	}
	c, err := b.current()
	if err != nil {
		return nil, err
	}

	segments := make([]string, len(works))
	ids := make([]int64, len(works))
	for i, w := range works {
		segments[i] = b.workSegment(ctx, i+1, w)
		ids[i] = w.ID
	}
	b.mu.Lock()
	b.lastBatch = ids
	b.mu.Unlock()

	delivered := false
	var lastErr error

	if b.cfg.PushToGroup && b.cfg.GroupID != 0 {
		if err := b.sendGroupForward(ctx, c, segments); err != nil {
			b.log.Warn().Err(err).Msg("forward message failed, per-work fallback")
			if err := b.sendEach(ctx, c, "send_group_msg", "group_id", b.cfg.GroupID, segments); err != nil {
				lastErr = err
			} else {
				delivered = true
			}
		} else {
			delivered = true
		}
	}
	if b.cfg.PushToPrivate && b.cfg.PrivateID != 0 {
		if err := b.sendEach(ctx, c, "send_private_msg", "user_id", b.cfg.PrivateID, segments); err != nil {
			lastErr = err
		} else {
			delivered = true
		}
	}

	if !delivered {
		metrics.DeliveryErrors.WithLabelValues(b.Name()).Inc()
		if lastErr == nil {
			lastErr = fmt.Errorf("onebot: no push target configured")
		}
		return nil, lastErr
	}
	return ids, nil
}

// sendGroupForward wraps each work segment in a forward node.
func (b *Bot) sendGroupForward(ctx context.Context, c *conn, segments []string) error {
	nodes := make([]map[string]any, len(segments))
	for i, seg := range segments {
		nodes[i] = map[string]any{
			"type": "node",
			"data": map[string]any{
				"name":    "pixivpush",
				"uin":     fmt.Sprint(b.cfg.PrivateID),
				"content": seg,
			},
		}
	}
	_, err := c.do(ctx, "send_group_forward_msg", map[string]any{
		"group_id": b.cfg.GroupID,
		"messages": nodes,
	})
	return err
}

func (b *Bot) sendEach(ctx context.Context, c *conn, action, targetKey string, targetID int64, segments []string) error {
	var lastErr error
	sent := 0
	for _, seg := range segments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.do(ctx, action, map[string]any{
			targetKey: targetID,
			"message": seg,
		}); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return lastErr
	}
	return nil
}

// workSegment renders one work as CQ text with an inline base64 image,
// falling back to the proxy URL when download or encoding fails.
func (b *Bot) workSegment(ctx context.Context, index int, w pixiv.Illust) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. %s\nby %s\n", index, w.Title, w.ArtistName)
	tags := w.DisplayTags
	if len(tags) == 0 {
		tags = w.Tags
	}
	if len(tags) > 0 {
		if len(tags) > 8 {
			tags = tags[:8]
		}
		fmt.Fprintf(&sb, "tags: %s\n", strings.Join(tags, ", "))
	}
	fmt.Fprintf(&sb, "https://www.pixiv.net/artworks/%d\n", w.ID)

	if data, err := b.images.DownloadImage(ctx, w.CoverURL()); err == nil {
		fmt.Fprintf(&sb, "[CQ:image,file=base64://%s]", base64.StdEncoding.EncodeToString(data))
	} else {
		b.log.Warn().Int64("illust_id", w.ID).Err(err).Msg("inline image failed")
		fmt.Fprintf(&sb, "[CQ:image,file=https://pixiv.cat/%d.jpg]", w.ID)
	}
	fmt.Fprintf(&sb, "\nreply \"%d 1\" to like, \"%d 2\" to dislike", index, index)
	return sb.String()
}

// SendText delivers a free-form message; buttons degrade to a numbered
// text menu since the transport has no inline keyboards.
func (b *Bot) SendText(ctx context.Context, text string, buttons [][]notify.Button) error {
	c, err := b.current()
	if err != nil {
		return err
	}
	if len(buttons) > 0 {
		var lines []string
		for _, row := range buttons {
			for _, btn := range row {
				if btn.Data != "" {
					lines = append(lines, fmt.Sprintf("- %s: send %q", btn.Text, btn.Data))
				} else if btn.URL != "" {
					lines = append(lines, fmt.Sprintf("- %s: %s", btn.Text, btn.URL))
				}
			}
		}
		text = text + "\n" + strings.Join(lines, "\n")
	}

	delivered := false
	var lastErr error
	if b.cfg.PushToPrivate && b.cfg.PrivateID != 0 {
		if _, err := c.do(ctx, "send_private_msg", map[string]any{
			"user_id": b.cfg.PrivateID, "message": text,
		}); err != nil {
			lastErr = err
		} else {
			delivered = true
		}
	}
	if b.cfg.PushToGroup && b.cfg.GroupID != 0 {
		if _, err := c.do(ctx, "send_group_msg", map[string]any{
			"group_id": b.cfg.GroupID, "message": text,
		}); err != nil {
			lastErr = err
		} else {
			delivered = true
		}
	}
	if !delivered {
		if lastErr == nil {
			lastErr = fmt.Errorf("onebot: no push target configured")
		}
		return lastErr
	}
	return nil
}

// Close stops the connection. Idempotent.
func (b *Bot) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.conn != nil {
		err := b.conn.close()
		b.conn = nil
		return err
	}
	return nil
}
