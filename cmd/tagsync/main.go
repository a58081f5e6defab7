// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package main is the tagsync utility. It pulls franchise and character
// tags from the Danbooru wiki and writes their Japanese aliases to a
// synonym file (canonical tag -> raw search terms) that the fetcher's
// search strategy merges on startup.
//
//	tagsync --out data/ip_tags.json --pages 10
//
// Danbooru rate limits anonymous clients aggressively; set DANBOORU_LOGIN
// and DANBOORU_API_KEY for a higher allowance.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"

	"github.com/pixivpush/pixivpush/internal/logging"
)

const (
	danbooruBase = "https://danbooru.donmai.us"
	pageSize     = 100
	// pageDelay keeps the crawl under Danbooru's anonymous rate limit.
	pageDelay = 600 * time.Millisecond
)

// Danbooru tag categories worth aliasing.
var categories = map[string]int{
	"copyright": 3,
	"character": 4,
}

type wikiPage struct {
	Title      string   `json:"title"`
	OtherNames []string `json:"other_names"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		out      = flag.String("out", "data/ip_tags.json", "output synonym file")
		pages    = flag.Int("pages", 10, "wiki pages to crawl per category")
		category = flag.String("category", "copyright,character", "comma-separated tag categories")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Component("tagsync")

	entries := make(map[string][]string)
	client := &http.Client{Timeout: 30 * time.Second}
	for _, name := range strings.Split(*category, ",") {
		name = strings.TrimSpace(name)
		cat, ok := categories[name]
		if !ok {
			logging.Error().Str("category", name).Msg("Unknown category, expected copyright or character")
			return 2
		}
		n, err := crawlCategory(ctx, client, cat, *pages, entries)
		if err != nil {
			logging.Error().Err(err).Str("category", name).Msg("Crawl failed")
			return 1
		}
		log.Info().Str("category", name).Int("tags", n).Msg("category synced")
	}

	if err := writeSynonyms(*out, entries); err != nil {
		logging.Error().Err(err).Str("path", *out).Msg("Failed to write synonym file")
		return 1
	}
	log.Info().Str("path", *out).Int("tags", len(entries)).Msg("synonym file written")
	return 0
}

// crawlCategory pages through wiki entries that carry other-language
// names for tags of one category. Returns how many tags contributed.
func crawlCategory(ctx context.Context, client *http.Client, category, pages int, entries map[string][]string) (int, error) {
	added := 0
	for page := 1; page <= pages; page++ {
		batch, err := fetchWikiPage(ctx, client, category, page)
		if err != nil {
			return added, err
		}
		if len(batch) == 0 {
			break
		}
		for _, wiki := range batch {
			canonical := strings.ToLower(strings.TrimSpace(wiki.Title))
			if canonical == "" || len(wiki.OtherNames) == 0 {
				continue
			}
			raws := entries[canonical]
			for _, alias := range wiki.OtherNames {
				alias = strings.TrimSpace(alias)
				if alias != "" && !contains(raws, alias) {
					raws = append(raws, alias)
				}
			}
			if len(raws) > 0 {
				entries[canonical] = raws
				added++
			}
		}
		select {
		case <-ctx.Done():
			return added, ctx.Err()
		case <-time.After(pageDelay):
		}
	}
	return added, nil
}

func fetchWikiPage(ctx context.Context, client *http.Client, category, page int) ([]wikiPage, error) {
	params := url.Values{}
	params.Set("search[other_names_present]", "true")
	params.Set("search[tag][category]", strconv.Itoa(category))
	params.Set("search[order]", "post_count")
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("page", strconv.Itoa(page))
	if login := os.Getenv("DANBOORU_LOGIN"); login != "" {
		params.Set("login", login)
		params.Set("api_key", os.Getenv("DANBOORU_API_KEY"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		danbooruBase+"/wiki_pages.json?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "pixivpush-tagsync/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("danbooru page %d: status %d: %.200s", page, resp.StatusCode, body)
	}

	var batch []wikiPage
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("danbooru page %d: decode: %w", page, err)
	}
	return batch, nil
}

// writeSynonyms writes atomically: temp file in the target directory,
// then rename.
func writeSynonyms(path string, entries map[string][]string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ip_tags-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
