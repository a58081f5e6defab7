// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/imaging"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/metrics"
	"github.com/pixivpush/pixivpush/internal/notify"
	"github.com/pixivpush/pixivpush/internal/pixiv"
)

// Telegram rejects photo uploads over 10MB.
const maxPhotoBytes = 10 << 20

// ImageSource downloads artwork bytes for upload.
type ImageSource interface {
	DownloadImage(ctx context.Context, imageURL string) ([]byte, error)
}

// Notifier delivers works to the configured chats over the Bot API.
type Notifier struct {
	api       *apiClient
	telegraph *telegraphClient
	cfg       *config.TelegramConfig
	images    ImageSource
	tracker   *workTracker
	callbacks *notify.Callbacks
	log       zerolog.Logger

	mu        sync.Mutex
	batchMode string  // "single" or "telegraph", flipped at runtime by /batch
	lastBatch []int64 // work ids of the most recent telegraph batch
	closed    bool
}

// New builds the Telegram backend. The same value serves as both
// Notifier and Listener.
func New(cfg *config.TelegramConfig, images ImageSource, callbacks *notify.Callbacks) (*Notifier, error) {
	log := logging.Component("notify.telegram")
	api, err := newAPIClient(cfg.BotToken, cfg.ProxyURL, log)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		api:       api,
		telegraph: newTelegraphClient(api.httpClient),
		cfg:       cfg,
		images:    images,
		tracker:   newWorkTracker(cfg.MessageMapSize),
		callbacks: callbacks,
		log:       log,
		batchMode: cfg.BatchMode,
	}, nil
}

func (n *Notifier) Name() string { return "telegram" }

// Send delivers works to every configured chat. A work counts as sent
// when at least one chat accepted it.
func (n *Notifier) Send(ctx context.Context, works []pixiv.Illust) ([]int64, error) {
	if len(works) == 0 {
		return nil, nil
	}
	if n.BatchMode() == "telegraph" {
		return n.sendBatch(ctx, works)
	}
	return n.sendAllSingle(ctx, works)
}

// BatchMode reports the current delivery mode.
func (n *Notifier) BatchMode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.batchMode
}

// ToggleBatchMode flips between single and telegraph delivery and
// returns the new mode. Safe against a concurrent Send.
func (n *Notifier) ToggleBatchMode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.batchMode == "telegraph" {
		n.batchMode = "single"
	} else {
		n.batchMode = "telegraph"
	}
	return n.batchMode
}

// sendAllSingle delivers each work as its own message.
func (n *Notifier) sendAllSingle(ctx context.Context, works []pixiv.Illust) ([]int64, error) {
	var sent []int64
	var lastErr error
	for _, w := range works {
		if ctx.Err() != nil {
			break
		}
		if err := n.sendSingle(ctx, w); err != nil {
			lastErr = &notify.DeliveryError{Backend: n.Name(), WorkID: w.ID, Err: err}
			n.log.Error().Int64("illust_id", w.ID).Err(err).Msg("send failed")
			metrics.DeliveryErrors.WithLabelValues(n.Name()).Inc()
			continue
		}
		sent = append(sent, w.ID)
	}
	if len(sent) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return sent, nil
}

// sendSingle applies the multi-page policy for one work.
func (n *Notifier) sendSingle(ctx context.Context, w pixiv.Illust) error {
	var lastErr error
	delivered := false
	for _, chatID := range n.cfg.ChatIDs {
		var err error
		switch {
		case w.PageCount > 1 && w.PageCount <= n.cfg.MaxPages && n.cfg.MultiPageMode == "album":
			err = n.sendAlbum(ctx, chatID, w)
		case w.PageCount > n.cfg.MaxPages:
			err = n.sendPhotoMessage(ctx, chatID, w, n.caption(w)+"\n[long work]")
		default:
			err = n.sendPhotoMessage(ctx, chatID, w, n.caption(w))
		}
		if err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		return lastErr
	}
	return nil
}

// sendPhotoMessage uploads the conditioned cover, falling back to the
// public reverse proxy when download or conditioning fails.
func (n *Notifier) sendPhotoMessage(ctx context.Context, chatID int64, w pixiv.Illust, caption string) error {
	markup := n.workKeyboard(w)

	data, err := n.conditionedImage(ctx, w.CoverURL())
	if err != nil {
		n.log.Warn().Int64("illust_id", w.ID).Err(err).Msg("falling back to proxy url")
		data = nil
	}
	msg, err := n.api.sendPhoto(ctx, chatID, n.cfg.ThreadID, data, proxyImageURL(w, 0), caption, markup)
	if err != nil && data != nil {
		// Upload rejected; the proxy URL may still work.
		msg, err = n.api.sendPhoto(ctx, chatID, n.cfg.ThreadID, nil, proxyImageURL(w, 0), caption, markup)
	}
	if err != nil {
		return err
	}
	n.tracker.remember(msg.MessageID, w.ID)
	return nil
}

// sendAlbum groups up to max_pages pages, then sends the action buttons
// as a follow-up because media groups cannot carry keyboards.
func (n *Notifier) sendAlbum(ctx context.Context, chatID int64, w pixiv.Illust) error {
	pages := w.ImageURLs
	if len(pages) > n.cfg.MaxPages {
		pages = pages[:n.cfg.MaxPages]
	}

	var media []inputMediaPhoto
	var files []upload
	for i, pageURL := range pages {
		item := inputMediaPhoto{Type: "photo"}
		if i == 0 {
			item.Caption = n.caption(w)
			item.ParseMode = "HTML"
		}
		if data, err := n.conditionedImage(ctx, pageURL); err == nil {
			field := fmt.Sprintf("page%d", i)
			item.Media = "attach://" + field
			files = append(files, upload{field: field, name: field + ".jpg", data: data})
		} else {
			item.Media = proxyImageURL(w, i)
		}
		media = append(media, item)
	}

	msgs, err := n.api.sendMediaGroup(ctx, chatID, n.cfg.ThreadID, media, files)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		n.tracker.remember(msg.MessageID, w.ID)
	}

	msg, err := n.api.sendMessage(ctx, chatID, n.cfg.ThreadID,
		fmt.Sprintf("react to <b>%s</b>:", html.EscapeString(w.Title)), n.workKeyboard(w))
	if err != nil {
		return err
	}
	n.tracker.remember(msg.MessageID, w.ID)
	return nil
}

// sendBatch publishes one Telegraph gallery and a summary message with
// bulk reaction buttons.
func (n *Notifier) sendBatch(ctx context.Context, works []pixiv.Illust) ([]int64, error) {
	pageURL, err := n.telegraph.CreatePage(ctx, "pixivpush daily picks", works)
	if err != nil {
		n.log.Warn().Err(err).Msg("telegraph page failed, falling back to single mode")
		return n.sendAllSingle(ctx, works)
	}

	ids := make([]int64, 0, len(works))
	var lines []string
	for i, w := range works {
		ids = append(ids, w.ID)
		lines = append(lines, fmt.Sprintf("%d. %s — %s", i+1,
			html.EscapeString(w.Title), html.EscapeString(w.ArtistName)))
	}
	n.mu.Lock()
	n.lastBatch = ids
	n.mu.Unlock()

	text := fmt.Sprintf("<b>%d works</b>\n%s\n\n<a href=\"%s\">open gallery</a>",
		len(works), strings.Join(lines, "\n"), pageURL)
	markup := &keyboard{InlineKeyboard: [][]keyboardButton{{
		{Text: "like...", CallbackData: "batch_like"},
		{Text: "dislike...", CallbackData: "batch_dislike"},
	}}}

	delivered := false
	var lastErr error
	for _, chatID := range n.cfg.ChatIDs {
		if _, err := n.api.sendMessage(ctx, chatID, n.cfg.ThreadID, text, markup); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		metrics.DeliveryErrors.WithLabelValues(n.Name()).Inc()
		return nil, lastErr
	}
	return ids, nil
}

// SendText delivers a free-form admin message to every configured chat.
func (n *Notifier) SendText(ctx context.Context, text string, buttons [][]notify.Button) error {
	markup := toKeyboard(buttons)
	var lastErr error
	delivered := false
	for _, chatID := range n.cfg.ChatIDs {
		if _, err := n.api.sendMessage(ctx, chatID, n.cfg.ThreadID, text, markup); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		return lastErr
	}
	return nil
}

// Close is idempotent; the long-poll loop stops through its context.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *Notifier) conditionedImage(ctx context.Context, imageURL string) ([]byte, error) {
	if imageURL == "" {
		return nil, fmt.Errorf("no image url")
	}
	raw, err := n.images.DownloadImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return imaging.Conform(raw, imaging.Options{
		MaxEdgePx: n.cfg.ImageMaxSizePx,
		Quality:   n.cfg.ImageQuality,
		MaxBytes:  maxPhotoBytes,
	})
}

func (n *Notifier) caption(w pixiv.Illust) string {
	tags := w.DisplayTags
	if len(tags) == 0 {
		tags = w.Tags
	}
	if len(tags) > 8 {
		tags = tags[:8]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(w.Title))
	fmt.Fprintf(&b, "by %s\n", html.EscapeString(w.ArtistName))
	if len(tags) > 0 {
		fmt.Fprintf(&b, "#%s\n", strings.Join(tags, " #"))
	}
	fmt.Fprintf(&b, "bookmarks %d", w.Bookmarks)
	if w.MatchScore > 0 {
		fmt.Fprintf(&b, " | match %.2f", w.MatchScore)
	}
	if w.PageCount > 1 {
		fmt.Fprintf(&b, " | %d pages", w.PageCount)
	}
	return b.String()
}

func (n *Notifier) workKeyboard(w pixiv.Illust) *keyboard {
	return &keyboard{InlineKeyboard: [][]keyboardButton{
		{
			{Text: "👍", CallbackData: fmt.Sprintf("like:%d", w.ID)},
			{Text: "👎", CallbackData: fmt.Sprintf("dislike:%d", w.ID)},
			{Text: "follow", CallbackData: fmt.Sprintf("follow:%d", w.ArtistID)},
		},
		{
			{Text: "open", URL: workURL(w.ID)},
		},
	}}
}

func toKeyboard(buttons [][]notify.Button) *keyboard {
	if len(buttons) == 0 {
		return nil
	}
	markup := &keyboard{}
	for _, row := range buttons {
		var out []keyboardButton
		for _, b := range row {
			out = append(out, keyboardButton{Text: b.Text, CallbackData: b.Data, URL: b.URL})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, out)
	}
	return markup
}

func workURL(id int64) string {
	return fmt.Sprintf("https://www.pixiv.net/artworks/%d", id)
}

// proxyImageURL is the public reverse proxy serving pixiv images
// without the Referer requirement.
func proxyImageURL(w pixiv.Illust, page int) string {
	if w.PageCount > 1 {
		return fmt.Sprintf("https://pixiv.cat/%d-%d.jpg", w.ID, page+1)
	}
	return fmt.Sprintf("https://pixiv.cat/%d.jpg", w.ID)
}
