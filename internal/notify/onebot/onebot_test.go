// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package onebot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/notify"
	"github.com/pixivpush/pixivpush/internal/pixiv"
)

type recordedAction struct {
	Action string
	Params map[string]any
}

// fakeImpl is a minimal OneBot implementation over a test websocket.
type fakeImpl struct {
	mu      sync.Mutex
	actions []recordedAction
	fail    map[string]bool // action name -> respond failed
	conn    *websocket.Conn
	ready   chan struct{}
}

func newFakeImpl() *fakeImpl {
	return &fakeImpl{fail: map[string]bool{}, ready: make(chan struct{})}
}

func (f *fakeImpl) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = ws
		f.mu.Unlock()
		close(f.ready)

		for {
			var frame actionFrame
			if err := ws.ReadJSON(&frame); err != nil {
				return
			}
			f.mu.Lock()
			f.actions = append(f.actions, recordedAction{Action: frame.Action, Params: frame.Params})
			failed := f.fail[frame.Action]
			f.mu.Unlock()

			resp := map[string]any{"status": "ok", "retcode": 0, "echo": frame.Echo}
			if failed {
				resp["status"] = "failed"
				resp["retcode"] = 100
			}
			f.mu.Lock()
			_ = ws.WriteJSON(resp)
			f.mu.Unlock()
		}
	}
}

// emit pushes an event frame to the client.
func (f *fakeImpl) emit(t *testing.T, event map[string]any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(t, f.conn.WriteJSON(event))
}

func (f *fakeImpl) recorded(action string) []recordedAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedAction
	for _, a := range f.actions {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeImpl) waitFor(t *testing.T, action string, n int) []recordedAction {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := f.recorded(action); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s actions", n, action)
	return nil
}

type fakeImages struct{ fail bool }

func (f *fakeImages) DownloadImage(context.Context, string) ([]byte, error) {
	if f.fail {
		return nil, fmt.Errorf("download failed")
	}
	return []byte{0xFF, 0xD8, 0xFF}, nil
}

func testOneBotConfig() *config.OneBotConfig {
	return &config.OneBotConfig{
		PrivateID:     10,
		GroupID:       20,
		PushToPrivate: false,
		PushToGroup:   true,
		MasterID:      10,
	}
}

func newTestBot(t *testing.T, cfg *config.OneBotConfig, callbacks *notify.Callbacks) (*Bot, *fakeImpl) {
	t.Helper()
	impl := newFakeImpl()
	srv := httptest.NewServer(impl.handler())
	t.Cleanup(srv.Close)

	if cfg == nil {
		cfg = testOneBotConfig()
	}
	cfg.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	if callbacks == nil {
		callbacks = &notify.Callbacks{}
	}
	b := New(cfg, &fakeImages{}, callbacks)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = b.Listen(ctx) }()
	select {
	case <-impl.ready:
	case <-time.After(3 * time.Second):
		t.Fatal("listener never connected")
	}
	// Wait for the client side to register the connection.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := b.current(); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return b, impl
}

func TestSendGroupForward(t *testing.T) {
	b, impl := newTestBot(t, nil, nil)

	sent, err := b.Send(context.Background(), []pixiv.Illust{
		{ID: 1, Title: "one", ArtistName: "a", ImageURLs: []string{"u"}},
		{ID: 2, Title: "two", ArtistName: "b", ImageURLs: []string{"u"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, sent)

	forwards := impl.recorded("send_group_forward_msg")
	require.Len(t, forwards, 1)
	assert.EqualValues(t, 20, forwards[0].Params["group_id"])

	nodes, ok := forwards[0].Params["messages"].([]any)
	require.True(t, ok)
	require.Len(t, nodes, 2)
	first, _ := json.Marshal(nodes[0])
	assert.Contains(t, string(first), "artworks/1")
	assert.Contains(t, string(first), "base64://")
	assert.Contains(t, string(first), `reply \"1 1\" to like`)
}

func TestSendFallsBackPerWork(t *testing.T) {
	b, impl := newTestBot(t, nil, nil)
	impl.mu.Lock()
	impl.fail["send_group_forward_msg"] = true
	impl.mu.Unlock()

	sent, err := b.Send(context.Background(), []pixiv.Illust{{ID: 1}, {ID: 2}})
	require.NoError(t, err)
	assert.Len(t, sent, 2)
	assert.Len(t, impl.recorded("send_group_msg"), 2)
}

func TestSendWhileDisconnected(t *testing.T) {
	b := New(testOneBotConfig(), &fakeImages{}, &notify.Callbacks{})
	_, err := b.Send(context.Background(), []pixiv.Illust{{ID: 1}})
	require.Error(t, err)
}

func TestReplyFeedback(t *testing.T) {
	var gotID int64
	var gotAction string
	b, impl := newTestBot(t, nil, &notify.Callbacks{
		React: func(_ context.Context, workID int64, action string) (string, error) {
			gotID, gotAction = workID, action
			return "noted", nil
		},
	})
	_, err := b.Send(context.Background(), []pixiv.Illust{{ID: 11}, {ID: 22}})
	require.NoError(t, err)

	impl.emit(t, map[string]any{
		"post_type": "message", "message_type": "private",
		"user_id": 10, "raw_message": "2 2",
	})

	replies := impl.waitFor(t, "send_private_msg", 1)
	assert.EqualValues(t, 22, gotID)
	assert.Equal(t, "dislike", gotAction)
	assert.Equal(t, "noted", replies[0].Params["message"])
}

func TestFeedbackIndexOutOfRange(t *testing.T) {
	b, impl := newTestBot(t, nil, &notify.Callbacks{
		React: func(context.Context, int64, string) (string, error) {
			t.Fatal("react must not be called")
			return "", nil
		},
	})
	_, err := b.Send(context.Background(), []pixiv.Illust{{ID: 11}})
	require.NoError(t, err)

	impl.emit(t, map[string]any{
		"post_type": "message", "message_type": "private",
		"user_id": 10, "raw_message": "9 1",
	})
	replies := impl.waitFor(t, "send_private_msg", 1)
	assert.Contains(t, replies[0].Params["message"], "no such work")
}

func TestMasterAuthorization(t *testing.T) {
	reacted := false
	_, impl := newTestBot(t, nil, &notify.Callbacks{
		React: func(context.Context, int64, string) (string, error) {
			reacted = true
			return "", nil
		},
	})

	impl.emit(t, map[string]any{
		"post_type": "message", "message_type": "private",
		"user_id": 666, "raw_message": "1 1",
	})
	time.Sleep(100 * time.Millisecond)
	assert.False(t, reacted)
}

func TestCommandDispatch(t *testing.T) {
	var gotName string
	_, impl := newTestBot(t, nil, &notify.Callbacks{
		Command: func(_ context.Context, name string, _ []string) (*notify.Reply, error) {
			gotName = name
			return &notify.Reply{Text: "profile: silver_hair 1.0"}, nil
		},
	})

	impl.emit(t, map[string]any{
		"post_type": "message", "message_type": "private",
		"user_id": 10, "raw_message": "/xp",
	})
	replies := impl.waitFor(t, "send_private_msg", 1)
	assert.Equal(t, "xp", gotName)
	assert.Contains(t, replies[0].Params["message"], "silver_hair")
}

func TestSendTextToGroup(t *testing.T) {
	b, impl := newTestBot(t, nil, nil)

	require.NoError(t, b.SendText(context.Background(), "tick done", [][]notify.Button{
		{{Text: "retry", Data: "retry_ai:3"}},
	}))
	msgs := impl.recorded("send_group_msg")
	require.Len(t, msgs, 1)
	text := msgs[0].Params["message"].(string)
	assert.Contains(t, text, "tick done")
	assert.Contains(t, text, "retry_ai:3")
}
