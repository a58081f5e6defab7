// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package pixiv

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixivpush/pixivpush/internal/config"
)

func fastNetConfig() *config.NetworkConfig {
	return &config.NetworkConfig{
		RequestsPerMinute: 60000,
		RandomDelay:       []float64{0, 0},
		MaxConcurrency:    5,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"access_token":"tok","refresh_token":"r","expires_in":3600}}`)
	})
	mux.Handle("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(
		&config.PixivConfig{UserID: 42, RefreshToken: "refresh"},
		fastNetConfig(),
		WithBaseURLs(srv.URL, srv.URL),
	)
	return c, srv
}

func illustJSONBody(id int64, bookmarks int, created time.Time) string {
	return fmt.Sprintf(`{
		"id": %d, "title": "t%d",
		"user": {"id": 7, "name": "artist"},
		"tags": [{"name": "銀髪"}, {"name": "メイド"}],
		"total_bookmarks": %d, "total_view": 1000, "page_count": 1,
		"meta_single_page": {"original_image_url": "https://i.pximg.net/img/%d.jpg"},
		"x_restrict": 0, "illust_ai_type": 1,
		"create_date": %q
	}`, id, id, bookmarks, id, created.Format(time.RFC3339))
}

func TestSearchFiltersByThresholdAndDate(t *testing.T) {
	now := time.Now()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/search/illust", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"illusts":[%s,%s,%s],"next_url":""}`,
			illustJSONBody(1, 1500, now.Add(-24*time.Hour)),
			illustJSONBody(2, 500, now.Add(-24*time.Hour)),   // below threshold
			illustJSONBody(3, 2000, now.Add(-30*24*time.Hour)), // too old
		)
	})
	c, _ := newTestClient(t, handler)

	got, err := c.SearchIllusts(context.Background(), "銀髪", 1000, 7, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, []string{"銀髪", "メイド"}, got[0].Tags)
	assert.False(t, got[0].IsAI)
}

func TestPagedFollowsNextURL(t *testing.T) {
	now := time.Now()
	var calls atomic.Int32
	var srvURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			fmt.Fprintf(w, `{"illusts":[%s],"next_url":"%s/v2/illust/follow?offset=1"}`,
				illustJSONBody(1, 10, now), srvURL)
		default:
			fmt.Fprintf(w, `{"illusts":[%s],"next_url":""}`, illustJSONBody(2, 10, now))
		}
	})
	c, srv := newTestClient(t, handler)
	srvURL = srv.URL

	got, err := c.FollowFeed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(2), got[1].ID)
}

func TestPagedStopsAtLimit(t *testing.T) {
	now := time.Now()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"illusts":[%s,%s,%s],"next_url":""}`,
			illustJSONBody(1, 10, now), illustJSONBody(2, 10, now), illustJSONBody(3, 10, now))
	})
	c, _ := newTestClient(t, handler)

	got, err := c.Ranking(context.Background(), "day", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	now := time.Now()
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"illusts":[%s],"next_url":""}`, illustJSONBody(1, 10, now))
	})
	c, _ := newTestClient(t, handler)

	start := time.Now()
	got, err := c.Ranking(context.Background(), "day", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTransientRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.Ranking(context.Background(), "day", 10)
	require.Error(t, err)
	var transient *TransientNetworkError
	assert.ErrorAs(t, err, &transient)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestAuthErrorAfterForcedRefresh(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.Ranking(context.Background(), "day", 10)
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestNoRefreshTokenIsAuthError(t *testing.T) {
	c := NewClient(&config.PixivConfig{UserID: 42}, fastNetConfig())
	_, err := c.Ranking(context.Background(), "day", 10)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestAddBookmarkPostsForm(t *testing.T) {
	var gotForm string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/illust/bookmark/add", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm.Encode()
		fmt.Fprint(w, `{}`)
	})
	c, _ := newTestClient(t, handler)

	require.NoError(t, c.AddBookmark(context.Background(), 5555, false))
	assert.Contains(t, gotForm, "illust_id=5555")
	assert.Contains(t, gotForm, "restrict=public")
}

func TestFollowingCollectsIDs(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_previews":[{"user":{"id":11}},{"user":{"id":22}}],"next_url":""}`)
	})
	c, _ := newTestClient(t, handler)

	ids, err := c.Following(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 22}, ids)
}

func TestDownloadImageSetsReferer(t *testing.T) {
	var referer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	c := NewClient(&config.PixivConfig{UserID: 42, RefreshToken: "r"}, fastNetConfig())
	data, err := c.DownloadImage(context.Background(), srv.URL+"/img/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpegbytes"), data)
	assert.Equal(t, imageReferer, referer)
}

func TestSplitNextURL(t *testing.T) {
	path, query := splitNextURL("https://app-api.pixiv.net/v1/search/illust?word=x&offset=30")
	assert.Equal(t, "/v1/search/illust", path)
	assert.Equal(t, "x", query.Get("word"))
	assert.Equal(t, "30", query.Get("offset"))

	path, _ = splitNextURL("")
	assert.Empty(t, path)
}
