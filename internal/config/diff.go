package config

import (
	"reflect"
	"sort"
	"strings"

	logx "commitbot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and log fields
// describing them. Secrets (tokens, DSNs) are reported only as "_set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if o, n := oldCfg.Telegram, newCfg.Telegram; o.Token != n.Token ||
		o.PollTimeout != n.PollTimeout || !reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.Int("telegram.owner_count", len(n.OwnerUserIDs)),
			logx.String("telegram.poll_timeout", n.PollTimeout),
		)
	}
	if o, n := oldCfg.Gateway, newCfg.Gateway; !reflect.DeepEqual(o, n) {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.Int("gateway.rate_per_sec", n.RatePerSec),
			logx.Int("gateway.user_token_count", len(n.UserTokens)),
			logx.String("gateway.timezone", n.Timezone),
		)
	}
	if o, n := oldCfg.Logging, newCfg.Logging; o != n {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Level),
			logx.Bool("logging.console", n.Console),
			logx.Bool("logging.file_enabled", n.File.Enabled),
			logx.Bool("logging.chat_enabled", n.Chat.Enabled),
		)
	}
	if o, n := oldCfg.Storage, newCfg.Storage; o != n {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", n.Driver),
			logx.Bool("storage.path_set", set(n.Path)),
			logx.Bool("storage.dsn_set", set(n.DSN)),
		)
	}
	if o, n := oldCfg.Scheduler, newCfg.Scheduler; o != n {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.wake", n.Wake),
			logx.String("scheduler.default_timeout", n.DefaultTimeout),
			logx.String("scheduler.timezone", n.Timezone),
		)
	}
	if o, n := oldCfg.Followup, newCfg.Followup; o != n {
		changed = append(changed, "followup")
		attrs = append(attrs,
			logx.String("followup.interval", n.Interval),
			logx.String("followup.cadence", n.Cadence),
			logx.Int("followup.max_reminders", n.MaxReminders),
			logx.Bool("followup.mark_overdue", n.MarkOverdue),
		)
	}
	if o, n := oldCfg.HTTP, newCfg.HTTP; !reflect.DeepEqual(o, n) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", n.Enabled),
			logx.String("http.addr", n.Addr),
			logx.Bool("http.admin_token_set", set(n.AdminToken)),
			logx.Int("http.cors_origin_count", len(n.CORSOrigins)),
			logx.Bool("http.pprof", n.Pprof),
		)
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists the sections whose changes only take effect after a
// restart. Owners, logging, gateway, scheduler and follow-up settings apply live.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		out = append(out, "http")
	}
	if oldCfg.Systemd != newCfg.Systemd {
		out = append(out, "systemd")
	}
	return out
}
