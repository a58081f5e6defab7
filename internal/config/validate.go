// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. Any error it returns is a usage error:
// the caller should print it and exit with code 2.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid option: %w", err)
	}

	if len(c.Network.RandomDelay) == 2 && c.Network.RandomDelay[0] > c.Network.RandomDelay[1] {
		return fmt.Errorf("network.random_delay: min %.1f exceeds max %.1f",
			c.Network.RandomDelay[0], c.Network.RandomDelay[1])
	}

	// Standard 5-field cron only. ParseStandard also rejects wrong arity.
	if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("scheduler.cron %q: %w", c.Scheduler.Cron, err)
	}

	for _, typ := range c.Notifier.Types {
		switch typ {
		case "telegram":
			if c.Notifier.Telegram.BotToken == "" {
				return fmt.Errorf("notifier.telegram.bot_token required when telegram notifier enabled")
			}
			if len(c.Notifier.Telegram.ChatIDs) == 0 {
				return fmt.Errorf("notifier.telegram.chat_ids required when telegram notifier enabled")
			}
		case "onebot":
			if c.Notifier.OneBot.WSURL == "" {
				return fmt.Errorf("notifier.onebot.ws_url required when onebot notifier enabled")
			}
			if !c.Notifier.OneBot.PushToPrivate && !c.Notifier.OneBot.PushToGroup {
				return fmt.Errorf("notifier.onebot: at least one of push_to_private, push_to_group must be set")
			}
		}
	}

	if c.Web.Enabled && c.Web.AdminToken == "" {
		return fmt.Errorf("web.admin_token required when web.enabled")
	}

	return nil
}
