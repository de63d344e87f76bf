package app

import (
	"time"

	"commitbot/internal/config"
	"commitbot/internal/followup"
	"commitbot/internal/storage"
	"commitbot/internal/task/scheduler"
	"commitbot/internal/transport/telegram"
	logx "commitbot/pkg/logx"
)

// The mappers below run on configs that passed config.Validate, so parse
// failures cannot happen and fall back to defaults.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			Channel:    l.Chat.Channel,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	s := cfg.Storage
	return storage.Config{
		Driver:      s.Driver,
		Path:        s.Path,
		DSN:         s.DSN,
		BusyTimeout: config.DurationOr(s.BusyTimeout, time.Second),
		MaxOpenConn: s.MaxOpenConn,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	s := cfg.Scheduler
	return scheduler.Config{
		DefaultTimeout: config.DurationOr(s.DefaultTimeout, 2*time.Minute),
		Wake:           s.Wake,
		Timezone:       s.Timezone,
		TickOnStart:    s.TickOnStart,
	}
}

func mapFollowup(cfg *config.Config) followup.Config {
	f := cfg.Followup
	return followup.Config{
		Interval:     config.DurationOr(f.Interval, 0),
		Cadence:      config.DurationOr(f.Cadence, 0),
		MaxReminders: f.MaxReminders,
		Reason:       f.Reason,
		MarkOverdue:  f.MarkOverdue,
	}
}

func mapGateway(cfg *config.Config) telegram.GatewayConfig {
	loc, err := config.Location(cfg.Gateway.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return telegram.GatewayConfig{
		UserTokens: cfg.Gateway.UserTokens,
		RatePerSec: cfg.Gateway.RatePerSec,
		Location:   loc,
	}
}
