// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package fetcher

import (
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/pixivpush/pixivpush/internal/logging"
)

// builtinSynonyms maps canonical tags to the raw platform search terms
// known to retrieve them. Extended at startup from data/ip_tags.json
// (written by the tagsync utility).
var builtinSynonyms = map[string][]string{
	"silver_hair":    {"銀髪", "白髪"},
	"white_hair":     {"白髪", "銀髪"},
	"blonde_hair":    {"金髪", "ブロンド"},
	"black_hair":     {"黒髪"},
	"twintails":      {"ツインテール", "twintails"},
	"ponytail":       {"ポニーテール"},
	"cat_ears":       {"猫耳", "ネコミミ", "けもみみ"},
	"fox_ears":       {"狐耳", "きつね耳"},
	"maid":           {"メイド", "メイド服"},
	"school_uniform": {"制服", "セーラー服", "学生服"},
	"swimsuit":       {"水着", "スク水"},
	"kimono":         {"着物", "和服", "浴衣"},
	"gothic_lolita":  {"ゴスロリ", "ロリータ"},
	"knight":         {"騎士", "ナイト"},
	"elf":            {"エルフ"},
	"angel":          {"天使"},
	"demon":          {"悪魔", "デーモン"},
	"vampire":        {"吸血鬼", "ヴァンパイア"},
	"witch":          {"魔女", "魔法使い"},
	"landscape":      {"風景", "背景"},
	"scenery":        {"風景"},
	"night_sky":      {"星空", "夜空"},
	"cherry_blossom": {"桜", "さくら"},
	"genshin_impact": {"原神", "GenshinImpact"},
	"blue_archive":   {"ブルーアーカイブ", "ブルアカ"},
	"honkai":         {"崩壊", "崩坏"},
	"fate":           {"Fate", "FGO", "Fate/GrandOrder"},
	"touhou":         {"東方", "東方Project"},
	"vtuber":         {"VTuber", "バーチャルYouTuber"},
	"hololive":       {"ホロライブ", "hololive"},
	"idolmaster":     {"アイドルマスター", "アイマス"},
	"azur_lane":      {"アズールレーン", "アズレン"},
	"arknights":      {"アークナイツ", "明日方舟"},
}

// SynonymDict resolves a canonical tag to its known raw search terms.
type SynonymDict struct {
	entries map[string][]string
}

// NewSynonymDict copies the built-in table and merges extra entries from
// the given JSON file (canonical -> raw list) when it exists.
func NewSynonymDict(extraPath string) *SynonymDict {
	entries := make(map[string][]string, len(builtinSynonyms))
	for k, v := range builtinSynonyms {
		entries[k] = append([]string(nil), v...)
	}

	if extraPath != "" {
		if data, err := os.ReadFile(extraPath); err == nil {
			var extra map[string][]string
			if err := json.Unmarshal(data, &extra); err == nil {
				for canonical, raws := range extra {
					key := strings.ToLower(canonical)
					entries[key] = mergeTerms(entries[key], raws)
				}
			} else {
				logging.Warn().Str("path", extraPath).Err(err).
					Msg("malformed synonym file ignored")
			}
		}
	}
	return &SynonymDict{entries: entries}
}

// Terms returns the raw search terms for a canonical tag, nil when unknown.
func (d *SynonymDict) Terms(canonical string) []string {
	return d.entries[canonical]
}

func mergeTerms(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range extra {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
