// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package onebot implements the websocket bot backend: forward-message
// grouping, base64 inline images, and reply-text feedback.
package onebot

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	dialTimeout   = 10 * time.Second
	actionTimeout = 30 * time.Second
)

// actionFrame is one outgoing API call on the socket.
type actionFrame struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Echo   string         `json:"echo"`
}

// incomingFrame is any frame the implementation sends us: action
// responses carry echo+status, events carry post_type.
type incomingFrame struct {
	// Action response fields.
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Echo    string          `json:"echo"`
	Data    json.RawMessage `json:"data"`

	// Event fields.
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id"`
	RawMessage  string `json:"raw_message"`
}

// conn wraps one websocket connection with serialized writes and
// echo-correlated action responses.
type conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan incomingFrame
	nextID  int64
}

func dial(ctx context.Context, wsURL string, log zerolog.Logger) (*conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("onebot dial %s: %w", wsURL, err)
	}
	return &conn{
		ws:      ws,
		log:     log,
		pending: make(map[string]chan incomingFrame),
	}, nil
}

func (c *conn) close() error {
	return c.ws.Close()
}

// do sends one action and waits for its echoed response.
func (c *conn) do(ctx context.Context, action string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	echo := fmt.Sprintf("px-%d", c.nextID)
	ch := make(chan incomingFrame, 1)
	c.pending[echo] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, echo)
		c.mu.Unlock()
	}()

	frame := actionFrame{Action: action, Params: params, Echo: echo}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onebot %s: %w", action, err)
	}

	select {
	case resp := <-ch:
		if resp.Status == "failed" {
			return nil, fmt.Errorf("onebot %s: retcode %d", action, resp.RetCode)
		}
		return resp.Data, nil
	case <-time.After(actionTimeout):
		return nil, fmt.Errorf("onebot %s: response timeout", action)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop decodes frames, routing action responses to their waiters
// and handing events to onEvent. Returns on read error.
func (c *conn) readLoop(onEvent func(incomingFrame)) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		var frame incomingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn().Err(err).Msg("undecodable frame")
			continue
		}
		if frame.Echo != "" {
			c.mu.Lock()
			ch := c.pending[frame.Echo]
			c.mu.Unlock()
			if ch != nil {
				ch <- frame
			}
			continue
		}
		if frame.PostType != "" {
			onEvent(frame)
		}
	}
}
