// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pixivpush/pixivpush/internal/config"
	"github.com/pixivpush/pixivpush/internal/logging"
)

// SchedulerService fires ticks on the configured cron schedule. It runs
// under the supervision tree; Serve blocks until the context is done.
type SchedulerService struct {
	orch *Orchestrator
	cfg  *config.SchedulerConfig
	// immediate runs one tick at startup before the first cron fire.
	immediate bool
	log       zerolog.Logger
}

// NewSchedulerService builds the cron service. immediate requests one
// tick right after startup.
func NewSchedulerService(orch *Orchestrator, cfg *config.SchedulerConfig, immediate bool) *SchedulerService {
	return &SchedulerService{
		orch:      orch,
		cfg:       cfg,
		immediate: immediate,
		log:       logging.Component("scheduler"),
	}
}

func (s *SchedulerService) String() string { return "scheduler" }

func (s *SchedulerService) Serve(ctx context.Context) error {
	runner := cron.New()
	_, err := runner.AddFunc(s.cfg.Cron, func() {
		if err := s.orch.RunTick(ctx); err != nil && !errors.Is(err, ErrTickRunning) {
			s.log.Error().Err(err).Msg("scheduled tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register schedule %q: %w", s.cfg.Cron, err)
	}

	runner.Start()
	s.log.Info().Str("cron", s.cfg.Cron).Msg("scheduler started")

	if s.immediate {
		go func() {
			if err := s.orch.RunTick(ctx); err != nil && !errors.Is(err, ErrTickRunning) {
				s.log.Error().Err(err).Msg("immediate tick failed")
			}
		}()
	}

	<-ctx.Done()
	stopped := runner.Stop()
	<-stopped.Done()
	return ctx.Err()
}
