package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks a parsed config before it is committed. It never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)
	_, err = ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	add(err)
	_, err = ParseDurationField("followup.interval", cfg.Followup.Interval)
	add(err)
	_, err = ParseDurationField("followup.cadence", cfg.Followup.Cadence)
	add(err)

	for path, tz := range map[string]string{
		"gateway.timezone":   cfg.Gateway.Timezone,
		"scheduler.timezone": cfg.Scheduler.Timezone,
	} {
		if tz = strings.TrimSpace(tz); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				add(fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres"))
		}
	case "":
		add(errors.New("storage.driver: required (memory, sqlite, postgres)"))
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Followup.MaxReminders < 0 {
		add(errors.New("followup.max_reminders: must be >= 0"))
	}
	if cfg.Gateway.RatePerSec < 0 {
		add(errors.New("gateway.rate_per_sec: must be >= 0"))
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.Channel) == "" {
		add(errors.New("logging.chat.channel: required when chat logging is enabled"))
	}
	return errors.Join(errs...)
}
