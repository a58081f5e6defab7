// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/pixivpush/pixivpush/internal/pixiv"
)

const (
	defaultTelegraphBase = "https://api.telegra.ph"
	telegraphAuthor      = "pixivpush"
)

// telegraphClient builds the static gallery page used in batch mode.
// The access token is created lazily on first use and reused after.
type telegraphClient struct {
	httpClient *http.Client
	base       string
	token      string
}

func newTelegraphClient(httpClient *http.Client) *telegraphClient {
	return &telegraphClient{httpClient: httpClient, base: defaultTelegraphBase}
}

// node is a Telegraph DOM node: either plain text or a tagged element.
type node struct {
	Tag      string            `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []any             `json:"children,omitempty"`
}

type telegraphResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		AccessToken string `json:"access_token"`
		URL         string `json:"url"`
	} `json:"result"`
	Error string `json:"error"`
}

func (t *telegraphClient) ensureAccount(ctx context.Context) error {
	if t.token != "" {
		return nil
	}
	resp, err := t.call(ctx, "createAccount", url.Values{
		"short_name":  {telegraphAuthor},
		"author_name": {telegraphAuthor},
	})
	if err != nil {
		return err
	}
	t.token = resp.Result.AccessToken
	return nil
}

// CreatePage publishes a gallery of the given works and returns its URL.
func (t *telegraphClient) CreatePage(ctx context.Context, title string, works []pixiv.Illust) (string, error) {
	if err := t.ensureAccount(ctx); err != nil {
		return "", err
	}

	var content []any
	for i, w := range works {
		content = append(content,
			node{Tag: "h4", Children: []any{fmt.Sprintf("%d. %s", i+1, w.Title)}},
			node{Tag: "p", Children: []any{
				fmt.Sprintf("%s | %d bookmarks | %s", w.ArtistName, w.Bookmarks, strings.Join(w.DisplayTags, ", ")),
			}},
			node{Tag: "img", Attrs: map[string]string{"src": proxyImageURL(w, 0)}},
			node{Tag: "p", Children: []any{
				node{Tag: "a", Attrs: map[string]string{"href": workURL(w.ID)}, Children: []any{"open on pixiv"}},
			}},
		)
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", err
	}

	resp, err := t.call(ctx, "createPage", url.Values{
		"access_token": {t.token},
		"title":        {title},
		"author_name":  {telegraphAuthor},
		"content":      {string(contentJSON)},
	})
	if err != nil {
		return "", err
	}
	return resp.Result.URL, nil
}

func (t *telegraphClient) call(ctx context.Context, method string, form url.Values) (*telegraphResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.base+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegraph %s: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed telegraphResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("telegraph %s: decode: %w", method, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegraph %s: %s", method, parsed.Error)
	}
	return &parsed, nil
}
