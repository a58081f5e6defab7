// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package main is the entry point for the pixivpush daemon.
//
// Pixivpush builds a taste profile from the account's bookmark history,
// discovers fresh works through search, subscription, and ranking
// strategies, filters and ranks them against the profile, and pushes the
// survivors to chat backends (Telegram, OneBot). Reactions flow back and
// adjust the profile.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 load (defaults, YAML file, PIXIVPUSH_* env)
//  2. Store: embedded DuckDB holding profile, push history, and caches
//  3. Platform client: rate-limited Pixiv App-API client with circuit breaker
//  4. Tag normalizer: cached LLM cleaner, passthrough when unconfigured
//  5. Profiler, fetcher strategies, filter: the recommendation pipeline
//  6. Orchestrator: ties the pipeline to notifiers and reaction callbacks
//  7. Supervisor tree: scheduler in the pipeline layer, chat listeners and
//     the optional admin HTTP server in the listeners layer
//
// # Flags
//
//	--config PATH   config file (also PIXIVPUSH_CONFIG)
//	--once          run a single tick and exit
//	--now           run a tick immediately, then follow the cron schedule
//	--reset-xp      wipe the rebuildable profile tables before starting
//	--test          minimal end-to-end smoke run (implies --once)
//
// Exit codes: 0 on success, 1 on runtime failure, 2 on usage or
// configuration errors.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the root context; the supervisor tree drains
// its services (10s timeout) and notifier connections are closed.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/fetcher"
	"github.com/pixivpush/pixivpush/internal/filter"
	"github.com/pixivpush/pixivpush/internal/logging"
	"github.com/pixivpush/pixivpush/internal/notify"
	"github.com/pixivpush/pixivpush/internal/notify/onebot"
	"github.com/pixivpush/pixivpush/internal/notify/telegram"
	"github.com/pixivpush/pixivpush/internal/orchestrator"
	"github.com/pixivpush/pixivpush/internal/pixiv"
	"github.com/pixivpush/pixivpush/internal/profiler"
	"github.com/pixivpush/pixivpush/internal/store"
	"github.com/pixivpush/pixivpush/internal/supervisor"
	"github.com/pixivpush/pixivpush/internal/tagnorm"
	"github.com/pixivpush/pixivpush/internal/web"
)

// synonymDictPath is the optional IP-synonym dictionary produced by the
// tagsync tool.
const synonymDictPath = "data/ip_tags.json"

// onceTickTimeout bounds a --once run.
const onceTickTimeout = 30 * time.Minute

const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run())
}

//nolint:gocyclo // sequential wiring of every component
func run() int {
	var (
		configPath = flag.String("config", "", "config file path (also PIXIVPUSH_CONFIG)")
		once       = flag.Bool("once", false, "run a single tick and exit")
		now        = flag.Bool("now", false, "run a tick immediately, then follow the schedule")
		resetXP    = flag.Bool("reset-xp", false, "wipe the rebuildable profile tables before starting")
		testMode   = flag.Bool("test", false, "minimal smoke run: tiny scan, thresholds zeroed, implies --once")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return exitUsage
	}
	if *testMode {
		cfg.ApplyTestMode()
		*once = true
	}

	logging.Init(cfg.Logging)
	logging.Info().
		Int64("user_id", cfg.Pixiv.UserID).
		Str("db_path", cfg.Database.Path).
		Strs("notifiers", cfg.Notifier.Types).
		Bool("test_mode", *testMode).
		Msg("Starting pixivpush")

	st, err := store.Open(&cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open store")
		return exitRuntime
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	if *resetXP {
		resetCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := st.ResetProfileData(resetCtx)
		cancel()
		if err != nil {
			logging.Error().Err(err).Msg("Failed to reset profile data")
			return exitRuntime
		}
	}

	client := pixiv.NewClient(&cfg.Pixiv, &cfg.Network)

	var cleaner tagnorm.Cleaner
	if cfg.Profiler.AI.Endpoint != "" {
		cleaner = tagnorm.NewAICleaner(&cfg.Profiler.AI)
	} else {
		logging.Info().Msg("No tag cleaner endpoint configured, using passthrough normalization")
		cleaner = tagnorm.PassthroughCleaner{}
	}
	norm := tagnorm.New(st, cleaner, cfg.Profiler.StopWords,
		cfg.Profiler.AI.BatchSize, cfg.Profiler.AI.Concurrency)

	prof := profiler.New(st, client, norm, &cfg.Profiler, cfg.Pixiv.UserID)

	dict := fetcher.NewSynonymDict(synonymDictPath)
	strategies := []fetcher.Strategy{
		fetcher.NewSearchStrategy(client, st, dict, &cfg.Fetcher, cfg.Profiler.DiscoveryRate),
	}
	if len(cfg.Fetcher.SubscribedArtists) > 0 {
		strategies = append(strategies, fetcher.NewSubscriptionStrategy(client, &cfg.Fetcher))
	}
	if cfg.Fetcher.Ranking.Enabled {
		strategies = append(strategies, fetcher.NewRankingStrategy(client, &cfg.Fetcher.Ranking))
	}
	fetch := fetcher.New(strategies...)

	filt := filter.New(st, norm, &cfg.Filter, &cfg.Fetcher.MatchScore, cfg.Fetcher.SubscribedArtists)

	orch := orchestrator.New(st, prof, fetch, filt, client, norm, cfg)
	callbacks := orch.Callbacks()

	var listeners []notify.Listener
	var notifiers []notify.Notifier
	for _, typ := range cfg.Notifier.Types {
		switch typ {
		case "telegram":
			tg, err := telegram.New(&cfg.Notifier.Telegram, client, callbacks)
			if err != nil {
				logging.Error().Err(err).Msg("Failed to build telegram notifier")
				return exitRuntime
			}
			orch.AddNotifier(tg)
			notifiers = append(notifiers, tg)
			listeners = append(listeners, tg)
		case "onebot":
			ob := onebot.New(&cfg.Notifier.OneBot, client, callbacks)
			orch.AddNotifier(ob)
			notifiers = append(notifiers, ob)
			listeners = append(listeners, ob)
		}
	}
	defer func() {
		for _, n := range notifiers {
			if err := n.Close(); err != nil {
				logging.Error().Err(err).Str("backend", n.Name()).Msg("Error closing notifier")
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		tickCtx, cancel := context.WithTimeout(ctx, onceTickTimeout)
		defer cancel()
		if err := orch.RunTick(tickCtx); err != nil {
			logging.Error().Err(err).Msg("Tick failed")
			return exitRuntime
		}
		return exitOK
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(orchestrator.NewSchedulerService(orch, &cfg.Scheduler, *now))
	for i, l := range listeners {
		tree.AddListenerService(supervisor.ServiceFunc{
			Name: notifiers[i].Name() + "-listener",
			Run:  l.Listen,
		})
	}
	if cfg.Web.Enabled {
		tree.AddListenerService(web.NewServer(st, orch, &cfg.Web, &cfg.Filter))
	}

	logging.Info().Str("cron", cfg.Scheduler.Cron).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
		return exitRuntime
	}
	logging.Info().Msg("Shutdown complete")
	return exitOK
}
