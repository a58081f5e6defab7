// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package telegram implements the long-poll bot backend: markdown-free
// HTML messages, inline keyboards, photo upload with compression, album
// grouping, and a Telegraph gallery for batch mode.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	defaultAPIBase = "https://api.telegram.org"

	// floodAttempts bounds retries on flood-control responses.
	floodAttempts = 3

	callTimeout = 65 * time.Second
)

// APIError is a non-ok Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID int64    `json:"message_id"`
	From      *user    `json:"from"`
	Chat      chat     `json:"chat"`
	Text      string   `json:"text"`
	ReplyTo   *message `json:"reply_to_message"`
}

type chat struct {
	ID int64 `json:"id"`
}

type user struct {
	ID int64 `json:"id"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    *user    `json:"from"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

type keyboard struct {
	InlineKeyboard [][]keyboardButton `json:"inline_keyboard"`
}

type keyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type inputMediaPhoto struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// upload is one file part of a multipart API call.
type upload struct {
	field string
	name  string
	data  []byte
}

type apiClient struct {
	httpClient *http.Client
	base       string
	token      string
	log        zerolog.Logger
}

func newAPIClient(token, proxyURL string, log zerolog.Logger) (*apiClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &apiClient{
		httpClient: &http.Client{Transport: transport, Timeout: callTimeout},
		base:       defaultAPIBase,
		token:      token,
		log:        log,
	}, nil
}

// call posts one Bot API method, honoring flood-control retry_after.
func (c *apiClient) call(ctx context.Context, method string, params map[string]string, files []upload) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < floodAttempts; attempt++ {
		result, err := c.post(ctx, method, params, files)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
			return nil, err
		}
		c.log.Warn().Str("method", method).Int("retry_after", apiErr.RetryAfter).
			Msg("flood control, waiting")
		select {
		case <-time.After(time.Duration(apiErr.RetryAfter) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *apiClient) post(ctx context.Context, method string, params map[string]string, files []upload) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)

	var body io.Reader
	contentType := "application/x-www-form-urlencoded"
	if len(files) > 0 {
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		for k, v := range params {
			if err := mw.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			part, err := mw.CreateFormFile(f.field, f.name)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(f.data); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		body = buf
		contentType = mw.FormDataContentType()
	} else {
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !parsed.OK {
		apiErr := &APIError{Method: method, Code: parsed.ErrorCode, Description: parsed.Description}
		if parsed.Parameters != nil {
			apiErr.RetryAfter = parsed.Parameters.RetryAfter
		}
		return nil, apiErr
	}
	return parsed.Result, nil
}

func (c *apiClient) getUpdates(ctx context.Context, offset int64, timeoutSec int) ([]update, error) {
	result, err := c.call(ctx, "getUpdates", map[string]string{
		"offset":          fmt.Sprint(offset),
		"timeout":         fmt.Sprint(timeoutSec),
		"allowed_updates": `["message","callback_query"]`,
	}, nil)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}
	return updates, nil
}

func (c *apiClient) sendMessage(ctx context.Context, chatID int64, threadID int64, text string, markup *keyboard) (*message, error) {
	params := map[string]string{
		"chat_id":    fmt.Sprint(chatID),
		"text":       text,
		"parse_mode": "HTML",
	}
	if threadID != 0 {
		params["message_thread_id"] = fmt.Sprint(threadID)
	}
	if err := attachMarkup(params, markup); err != nil {
		return nil, err
	}
	return c.messageCall(ctx, "sendMessage", params, nil)
}

// sendPhoto uploads photo bytes when data is set, otherwise passes
// photoURL through for Telegram-side fetching.
func (c *apiClient) sendPhoto(ctx context.Context, chatID, threadID int64, data []byte, photoURL, caption string, markup *keyboard) (*message, error) {
	params := map[string]string{
		"chat_id":    fmt.Sprint(chatID),
		"caption":    caption,
		"parse_mode": "HTML",
	}
	if threadID != 0 {
		params["message_thread_id"] = fmt.Sprint(threadID)
	}
	if err := attachMarkup(params, markup); err != nil {
		return nil, err
	}
	var files []upload
	if data != nil {
		files = []upload{{field: "photo", name: "image.jpg", data: data}}
	} else {
		params["photo"] = photoURL
	}
	return c.messageCall(ctx, "sendPhoto", params, files)
}

func (c *apiClient) sendMediaGroup(ctx context.Context, chatID, threadID int64, media []inputMediaPhoto, files []upload) ([]message, error) {
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"chat_id": fmt.Sprint(chatID),
		"media":   string(mediaJSON),
	}
	if threadID != 0 {
		params["message_thread_id"] = fmt.Sprint(threadID)
	}
	result, err := c.call(ctx, "sendMediaGroup", params, files)
	if err != nil {
		return nil, err
	}
	var msgs []message
	if err := json.Unmarshal(result, &msgs); err != nil {
		return nil, fmt.Errorf("telegram sendMediaGroup: %w", err)
	}
	return msgs, nil
}

func (c *apiClient) editMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *keyboard) error {
	params := map[string]string{
		"chat_id":    fmt.Sprint(chatID),
		"message_id": fmt.Sprint(messageID),
	}
	if err := attachMarkup(params, markup); err != nil {
		return err
	}
	_, err := c.call(ctx, "editMessageReplyMarkup", params, nil)
	return err
}

func (c *apiClient) answerCallbackQuery(ctx context.Context, id, text string) error {
	_, err := c.call(ctx, "answerCallbackQuery", map[string]string{
		"callback_query_id": id,
		"text":              text,
	}, nil)
	return err
}

func (c *apiClient) messageCall(ctx context.Context, method string, params map[string]string, files []upload) (*message, error) {
	result, err := c.call(ctx, method, params, files)
	if err != nil {
		return nil, err
	}
	var msg message
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	return &msg, nil
}

func attachMarkup(params map[string]string, markup *keyboard) error {
	if markup == nil {
		return nil
	}
	data, err := json.Marshal(markup)
	if err != nil {
		return err
	}
	params["reply_markup"] = string(data)
	return nil
}
