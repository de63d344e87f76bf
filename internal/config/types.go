package config

// Config is the whole configuration file. Durations are Go duration strings
// ("90s", "4h", or "1d12h" with a day prefix); empty means the component default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Gateway   GatewayConfig   `json:"gateway"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Followup  FollowupConfig  `json:"followup"`
	HTTP      HTTPConfig      `json:"http"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied as COMMITBOT_TELEGRAM_TOKEN. Without a
	// token the bot runs with the in-memory gateway (no chat surface).
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// GatewayConfig controls outbound delivery of reminders and escalations.
type GatewayConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// UserTokens sends a user's reminders through their own bot token. Those
	// bots are not polled: replies to their messages must go through the HTTP
	// responses route.
	UserTokens map[string]string `json:"user_tokens,omitempty"`
	// Timezone renders deadlines and parses chat deadlines (IANA name, default UTC).
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards warnings and errors to an operator channel
// ("<chat id>" or "<chat id>/<thread id>").
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Channel    string `json:"channel"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./commitbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // may come from COMMITBOT_STORAGE_DSN
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxOpenConn int    `json:"max_open_conn,omitempty"`
}

type SchedulerConfig struct {
	DefaultTimeout string `json:"default_timeout,omitempty"`
	// Wake is an optional in-process tick: "15m", "every:15m", "00:30", or a cron
	// expression. Empty leaves ticking to inbound triggers.
	Wake        string `json:"wake,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	TickOnStart bool   `json:"tick_on_start,omitempty"`
}

type FollowupConfig struct {
	Interval     string `json:"interval,omitempty"`
	Cadence      string `json:"cadence,omitempty"`
	MaxReminders int    `json:"max_reminders,omitempty"`
	Reason       string `json:"reason,omitempty"`
	MarkOverdue  bool   `json:"mark_overdue,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
	// AdminToken guards job triggers and commitment writes. It may come from
	// COMMITBOT_ADMIN_TOKEN. Empty disables the guarded routes.
	AdminToken  string   `json:"admin_token,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
	// Pprof exposes /debug/pprof behind the admin token.
	Pprof bool `json:"pprof,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
	// Watchdog pings WATCHDOG=1 at half of WATCHDOG_USEC; each ping also ticks.
	Watchdog bool `json:"watchdog"`
}
