// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/store"
)

type fakeTicker struct {
	runs atomic.Int32
}

func (f *fakeTicker) RunTick(context.Context) error {
	f.runs.Add(1)
	return nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeTicker) {
	t.Helper()
	s, err := store.Open(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ticker := &fakeTicker{}
	srv := NewServer(s, ticker, &config.WebConfig{
		Host:            "127.0.0.1",
		Port:            8321,
		AdminToken:      "secret",
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"*"},
	}, &config.FilterConfig{BlacklistThreshold: 2})
	return srv, s, ticker
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealthWithoutToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv.Routes(), http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv.Routes(), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Routes()

	w := doRequest(t, h, http.MethodGet, "/api/v1/profile", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, h, http.MethodGet, "/api/v1/profile", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, h, http.MethodGet, "/api/v1/profile", "secret", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProfileEndpoint(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceProfile(ctx, map[string]float64{"silver_hair": 1.0, "maid": 0.5}))

	w := doRequest(t, srv.Routes(), http.MethodGet, "/api/v1/profile", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tags    map[string]float64 `json:"tags"`
		TopTags []store.TagWeight  `json:"top_tags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1.0, resp.Tags["silver_hair"])
	require.Len(t, resp.TopTags, 2)
	assert.Equal(t, "silver_hair", resp.TopTags[0].Tag)
}

func TestAdjustWeightEndpoint(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceProfile(ctx, map[string]float64{"maid": 0.5}))
	h := srv.Routes()

	w := doRequest(t, h, http.MethodPost, "/api/v1/profile", "secret", `{"tag":"maid","delta":-0.2}`)
	require.Equal(t, http.StatusOK, w.Code)

	profile, err := s.GetProfile(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, profile["maid"], 1e-9)

	w = doRequest(t, h, http.MethodPost, "/api/v1/profile", "secret", `{"delta":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv, s, _ := newTestServer(t)
	require.NoError(t, s.MarkPushed(context.Background(), 1, store.SourceSearch))
	h := srv.Routes()

	w := doRequest(t, h, http.MethodGet, "/api/v1/stats?days=3", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats store.PushStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Pushed)

	w = doRequest(t, h, http.MethodGet, "/api/v1/stats?days=junk", "secret", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTickEndpoint(t *testing.T) {
	srv, _, ticker := newTestServer(t)
	w := doRequest(t, srv.Routes(), http.MethodPost, "/api/v1/tick", "secret", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool { return ticker.runs.Load() == 1 },
		3*time.Second, 10*time.Millisecond)
}

func TestBlacklistEndpoints(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	// Threshold 2 in test config.
	for range 2 {
		_, err := s.IncrementDislike(ctx, "watermark")
		require.NoError(t, err)
	}
	h := srv.Routes()

	w := doRequest(t, h, http.MethodGet, "/api/v1/blacklist", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "watermark")

	w = doRequest(t, h, http.MethodDelete, "/api/v1/blacklist/watermark", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodGet, "/api/v1/blacklist", "secret", "")
	assert.NotContains(t, w.Body.String(), "watermark")
}

func TestMuteEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Routes()

	w := doRequest(t, h, http.MethodPost, "/api/v1/mutes", "secret", `{"tag":"mecha","days":7}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodGet, "/api/v1/mutes", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mecha")

	w = doRequest(t, h, http.MethodDelete, "/api/v1/mutes/mecha", "secret", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, h, http.MethodGet, "/api/v1/mutes", "secret", "")
	assert.NotContains(t, w.Body.String(), "mecha")

	w = doRequest(t, h, http.MethodPost, "/api/v1/mutes", "secret", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
