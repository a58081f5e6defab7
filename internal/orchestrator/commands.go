// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pixivpush/pixivpush/internal/notify"
)

const helpText = `commands:
/menu - this list
/push - run a tick now
/search <query> - ad-hoc platform search
/xp - show top profile tags
/stats [days] - push and reaction stats
/schedule - show the cron schedule
/block <artist_id> | /unblock <artist_id>
/mute <tag> [days] | /unmute <tag>
/batch - toggle telegraph batch mode
/help - this list`

// defaultMuteDays applies when /mute is issued without a duration.
const defaultMuteDays = 30

// onCommand is the backend-agnostic admin command mux.
func (o *Orchestrator) onCommand(ctx context.Context, name string, args []string) (*notify.Reply, error) {
	switch name {
	case "menu", "help", "start":
		return &notify.Reply{Text: helpText}, nil

	case "push":
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			_ = o.RunTick(ctx)
		}()
		return &notify.Reply{Text: "tick started"}, nil

	case "search":
		return o.cmdSearch(ctx, args)

	case "xp":
		tags, err := o.profiler.TopN(ctx)
		if err != nil {
			return nil, err
		}
		return &notify.Reply{Text: "top profile tags:\n" + formatTags(tags)}, nil

	case "stats":
		return o.cmdStats(ctx, args)

	case "schedule":
		return o.cmdSchedule()

	case "block", "unblock":
		return o.cmdBlock(ctx, name, args)

	case "mute":
		return o.cmdMute(ctx, args)

	case "unmute":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: /unmute <tag>")
		}
		if err := o.store.UnmuteTag(ctx, args[0]); err != nil {
			return nil, err
		}
		return &notify.Reply{Text: fmt.Sprintf("unmuted %q", args[0])}, nil

	case "batch":
		return o.cmdBatchToggle()
	}
	return &notify.Reply{Text: "unknown command, try /help"}, nil
}

// cmdSearch runs an ad-hoc query and pushes the top hits through the
// normal delivery path without recording push history.
func (o *Orchestrator) cmdSearch(ctx context.Context, args []string) (*notify.Reply, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: /search <query>")
	}
	query := strings.Join(args, " ")
	works, err := o.platform.SearchIllusts(ctx, query, 0, o.cfg.Fetcher.DateRangeDays, 5)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if len(works) == 0 {
		return &notify.Reply{Text: fmt.Sprintf("no results for %q", query)}, nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		for _, n := range o.notifiers {
			if _, err := n.Send(ctx, works); err != nil {
				o.log.Warn().Str("backend", n.Name()).Err(err).Msg("search delivery failed")
			}
		}
	}()
	return &notify.Reply{Text: fmt.Sprintf("%d result(s) for %q, sending", len(works), query)}, nil
}

func (o *Orchestrator) cmdStats(ctx context.Context, args []string) (*notify.Reply, error) {
	days := 7
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("usage: /stats [days]")
		}
		days = parsed
	}
	stats, err := o.store.PushStats(ctx, days)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "last %d day(s): %d pushed, %d liked, %d disliked\n", days,
		stats.Pushed, stats.Liked, stats.Disliked)
	if len(stats.TopAuthors) > 0 {
		b.WriteString("top authors:\n")
		for _, a := range stats.TopAuthors {
			fmt.Fprintf(&b, "  %d: %d works\n", a.ArtistID, a.Count)
		}
	}
	if len(stats.TopTags) > 0 {
		b.WriteString("top tags:\n")
		for _, tc := range stats.TopTags {
			fmt.Fprintf(&b, "  %s: %d\n", tc.Tag, tc.Count)
		}
	}
	return &notify.Reply{Text: strings.TrimRight(b.String(), "\n")}, nil
}

func (o *Orchestrator) cmdSchedule() (*notify.Reply, error) {
	schedule, err := cron.ParseStandard(o.cfg.Scheduler.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	next := schedule.Next(time.Now())
	return &notify.Reply{Text: fmt.Sprintf("schedule: %s\nnext tick: %s",
		o.cfg.Scheduler.Cron, next.Format(time.RFC3339))}, nil
}

func (o *Orchestrator) cmdBlock(ctx context.Context, name string, args []string) (*notify.Reply, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: /%s <artist_id>", name)
	}
	artistID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad artist id %q", args[0])
	}
	if name == "block" {
		if err := o.store.BlockArtist(ctx, artistID); err != nil {
			return nil, err
		}
		return &notify.Reply{Text: fmt.Sprintf("blocked artist %d", artistID)}, nil
	}
	if err := o.store.UnblockArtist(ctx, artistID); err != nil {
		return nil, err
	}
	return &notify.Reply{Text: fmt.Sprintf("unblocked artist %d", artistID)}, nil
}

func (o *Orchestrator) cmdMute(ctx context.Context, args []string) (*notify.Reply, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: /mute <tag> [days]")
	}
	days := defaultMuteDays
	if len(args) > 1 {
		parsed, err := strconv.Atoi(strings.TrimSuffix(args[1], "d"))
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("bad mute duration %q", args[1])
		}
		days = parsed
	}
	until := time.Now().AddDate(0, 0, days)
	if err := o.store.MuteTag(ctx, args[0], until); err != nil {
		return nil, err
	}
	return &notify.Reply{Text: fmt.Sprintf("muted %q until %s", args[0],
		until.Format("2006-01-02"))}, nil
}

// batchToggler is implemented by backends with a runtime-switchable
// batch delivery mode.
type batchToggler interface {
	ToggleBatchMode() string
}

// cmdBatchToggle flips every capable backend between single and
// telegraph delivery for subsequent ticks.
func (o *Orchestrator) cmdBatchToggle() (*notify.Reply, error) {
	var modes []string
	for _, n := range o.notifiers {
		if t, ok := n.(batchToggler); ok {
			modes = append(modes, t.ToggleBatchMode())
		}
	}
	if len(modes) == 0 {
		return &notify.Reply{Text: "no backend supports batch mode"}, nil
	}
	return &notify.Reply{Text: "batch mode: " + strings.Join(modes, ", ")}, nil
}
