// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package pixiv

import (
	"context"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Wire shapes of the app API.

type illustJSON struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	User  struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Tags []struct {
		Name           string  `json:"name"`
		TranslatedName *string `json:"translated_name"`
	} `json:"tags"`
	TotalBookmarks int `json:"total_bookmarks"`
	TotalView      int `json:"total_view"`
	PageCount      int `json:"page_count"`
	MetaSinglePage struct {
		OriginalImageURL string `json:"original_image_url"`
	} `json:"meta_single_page"`
	MetaPages []struct {
		ImageURLs struct {
			Original string `json:"original"`
		} `json:"image_urls"`
	} `json:"meta_pages"`
	ImageURLs struct {
		Large string `json:"large"`
	} `json:"image_urls"`
	XRestrict    int    `json:"x_restrict"`
	IllustAIType int    `json:"illust_ai_type"`
	CreateDate   string `json:"create_date"`
}

type illustPage struct {
	Illusts []illustJSON `json:"illusts"`
	NextURL string       `json:"next_url"`
}

// aiGenerated is the illust_ai_type value the platform assigns to
// fully AI-generated works.
const aiGenerated = 2

func (ij *illustJSON) toIllust() Illust {
	il := Illust{
		ID:         ij.ID,
		Title:      ij.Title,
		ArtistID:   ij.User.ID,
		ArtistName: ij.User.Name,
		Bookmarks:  ij.TotalBookmarks,
		Views:      ij.TotalView,
		PageCount:  ij.PageCount,
		IsR18:      ij.XRestrict > 0,
		IsAI:       ij.IllustAIType == aiGenerated,
	}
	for _, t := range ij.Tags {
		il.Tags = append(il.Tags, t.Name)
	}
	if len(ij.MetaPages) > 0 {
		for _, p := range ij.MetaPages {
			il.ImageURLs = append(il.ImageURLs, p.ImageURLs.Original)
		}
	} else if ij.MetaSinglePage.OriginalImageURL != "" {
		il.ImageURLs = []string{ij.MetaSinglePage.OriginalImageURL}
	} else if ij.ImageURLs.Large != "" {
		il.ImageURLs = []string{ij.ImageURLs.Large}
	}
	if ts, err := time.Parse(time.RFC3339, ij.CreateDate); err == nil {
		il.CreatedAt = ts
	}
	return il
}

// paged follows next_url until limit works are collected, applying keep to
// each decoded work.
func (c *Client) paged(ctx context.Context, endpoint, path string, query url.Values, limit int, keep func(*Illust) bool) ([]Illust, error) {
	var out []Illust
	for path != "" && len(out) < limit {
		body, err := c.get(ctx, endpoint, path, query)
		if err != nil {
			return out, err
		}

		var page illustPage
		if err := json.Unmarshal(body, &page); err != nil {
			return out, &UpstreamContractError{Detail: endpoint + ": " + err.Error()}
		}

		for i := range page.Illusts {
			il := page.Illusts[i].toIllust()
			if il.ID == 0 {
				continue
			}
			if keep != nil && !keep(&il) {
				continue
			}
			out = append(out, il)
			if len(out) >= limit {
				return out, nil
			}
		}

		path, query = splitNextURL(page.NextURL)
	}
	return out, nil
}

// splitNextURL turns an absolute next_url into a path and query for the
// next request. Empty input ends the pagination.
func splitNextURL(next string) (string, url.Values) {
	if next == "" {
		return "", nil
	}
	u, err := url.Parse(next)
	if err != nil {
		return "", nil
	}
	return u.Path, u.Query()
}

// SearchIllusts runs a partial-tag-match search sorted by date, keeping
// works at or above the bookmark threshold within the date range.
func (c *Client) SearchIllusts(ctx context.Context, query string, threshold, dateRangeDays, limit int) ([]Illust, error) {
	cutoff := time.Now().AddDate(0, 0, -dateRangeDays)
	q := url.Values{
		"word":          {query},
		"search_target": {"partial_match_for_tags"},
		"sort":          {"date_desc"},
		"filter":        {"for_ios"},
	}
	return c.paged(ctx, "search", "/v1/search/illust", q, limit, func(il *Illust) bool {
		if il.Bookmarks < threshold {
			return false
		}
		return dateRangeDays <= 0 || il.CreatedAt.IsZero() || !il.CreatedAt.Before(cutoff)
	})
}

// UserIllusts returns an author's works created at or after since.
func (c *Client) UserIllusts(ctx context.Context, userID int64, since time.Time, limit int) ([]Illust, error) {
	q := url.Values{
		"user_id": {strconv.FormatInt(userID, 10)},
		"type":    {"illust"},
		"filter":  {"for_ios"},
	}
	return c.paged(ctx, "user_illusts", "/v1/user/illusts", q, limit, func(il *Illust) bool {
		return since.IsZero() || il.CreatedAt.IsZero() || !il.CreatedAt.Before(since)
	})
}

// FollowFeed returns the most recent works from followed authors.
func (c *Client) FollowFeed(ctx context.Context, limit int) ([]Illust, error) {
	q := url.Values{"restrict": {"all"}}
	return c.paged(ctx, "follow_feed", "/v2/illust/follow", q, limit, nil)
}

// Ranking pulls one ranking mode.
func (c *Client) Ranking(ctx context.Context, mode string, limit int) ([]Illust, error) {
	q := url.Values{
		"mode":   {mode},
		"filter": {"for_ios"},
	}
	return c.paged(ctx, "ranking", "/v1/illust/ranking", q, limit, nil)
}

type userPreviewPage struct {
	UserPreviews []struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	} `json:"user_previews"`
	NextURL string `json:"next_url"`
}

// Following lists the ids of users the given user follows.
func (c *Client) Following(ctx context.Context, userID int64) ([]int64, error) {
	path := "/v1/user/following"
	query := url.Values{
		"user_id":  {strconv.FormatInt(userID, 10)},
		"restrict": {"public"},
	}

	var ids []int64
	for path != "" {
		body, err := c.get(ctx, "following", path, query)
		if err != nil {
			return ids, err
		}

		var page userPreviewPage
		if err := json.Unmarshal(body, &page); err != nil {
			return ids, &UpstreamContractError{Detail: "following: " + err.Error()}
		}
		for _, p := range page.UserPreviews {
			if p.User.ID != 0 {
				ids = append(ids, p.User.ID)
			}
		}
		path, query = splitNextURL(page.NextURL)
	}
	return ids, nil
}

// UserBookmarks pages through a user's bookmarks with the given restrict.
func (c *Client) UserBookmarks(ctx context.Context, userID int64, restrict string, limit int) ([]Illust, error) {
	q := url.Values{
		"user_id":  {strconv.FormatInt(userID, 10)},
		"restrict": {restrict},
		"filter":   {"for_ios"},
	}
	return c.paged(ctx, "user_bookmarks", "/v1/user/bookmarks/illust", q, limit, nil)
}

// AddBookmark bookmarks a work on the platform.
func (c *Client) AddBookmark(ctx context.Context, illustID int64, private bool) error {
	restrict := "public"
	if private {
		restrict = "private"
	}
	form := url.Values{
		"illust_id": {strconv.FormatInt(illustID, 10)},
		"restrict":  {restrict},
	}
	_, err := c.post(ctx, "add_bookmark", "/v2/illust/bookmark/add", form)
	return err
}

// FollowUser follows an author on the platform.
func (c *Client) FollowUser(ctx context.Context, userID int64) error {
	form := url.Values{
		"user_id":  {strconv.FormatInt(userID, 10)},
		"restrict": {"public"},
	}
	_, err := c.post(ctx, "follow_user", "/v1/user/follow/add", form)
	return err
}
