package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "file-token"
  owner_user_ids: [1, 2]
gateway:
  timezone: Asia/Jakarta
  user_tokens:
    1001: "user-bot-token"
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./commitbot.db
  busy_timeout: 5s
followup:
  interval: 1d
  cadence: 2h
  max_reminders: 4
http:
  enabled: true
  cors_origins: ["https://ops.example.com"]
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newTestManager(path string, env map[string]string) *Manager {
	m := NewManager(path)
	m.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return m
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := newTestManager(writeFile(t, "config.yaml", sampleYAML), nil)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Telegram.Token)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 4, cfg.Followup.MaxReminders)
	assert.Equal(t, 2*time.Hour, DurationOr(cfg.Followup.Cadence, time.Hour))
	assert.Equal(t, 24*time.Hour, DurationOr(cfg.Followup.Interval, time.Hour))
	assert.Equal(t, map[string]string{"1001": "user-bot-token"}, cfg.Gateway.UserTokens)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.HTTP.CORSOrigins)
	assert.Same(t, cfg, m.Get())
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		raw  string
		want time.Duration
		err  bool
	}{
		"empty":     {raw: "  ", want: 0},
		"go syntax": {raw: "90m", want: 90 * time.Minute},
		"days":      {raw: "2d", want: 48 * time.Hour},
		"days+rest": {raw: "1d12h", want: 36 * time.Hour},
		"negative":  {raw: "-5m", err: true},
		"bad days":  {raw: "xd", err: true},
		"bad tail":  {raw: "1dzz", err: true},
		"garbage":   {raw: "soon", err: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("followup.cadence", tc.raw)
			if tc.err {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "followup.cadence")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := newTestManager(writeFile(t, "config.json", `{"storage":{"driver":"memory"},"systemd":{"notify":true,"watchdog":false}}`), nil)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.True(t, cfg.Systemd.Notify)
}

func TestParseIsStrict(t *testing.T) {
	t.Parallel()
	cases := map[string]struct{ name, body string }{
		"unknown json field": {"c.json", `{"storage":{"driver":"memory"},"plugins":{}}`},
		"unknown yaml field": {"c.yaml", "storage:\n  driver: memory\n  flavour: x\n"},
		"trailing data":      {"c.json", `{"storage":{"driver":"memory"}} {}`},
		"bad yaml":           {"c.yml", "storage: [\n"},
		"two yaml documents": {"c.yaml", "storage:\n  driver: memory\n---\nhttp:\n  enabled: true\n"},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := newTestManager(writeFile(t, tc.name, tc.body), nil).Parse()
			require.Error(t, err)
		})
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Parallel()
	m := newTestManager(writeFile(t, "config.yaml", sampleYAML), map[string]string{
		EnvTelegramToken: "env-token",
		EnvStorageDSN:    "  ",
		EnvAdminToken:    "s3cret",
	})
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Empty(t, cfg.Storage.DSN, "blank variables are ignored")
	assert.Equal(t, "s3cret", cfg.HTTP.AdminToken)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	ok := func() *Config { return &Config{Storage: StorageConfig{Driver: "memory"}} }
	require.NoError(t, Validate(ok()))

	cases := map[string]func(c *Config){
		"no driver":        func(c *Config) { c.Storage.Driver = "" },
		"unknown driver":   func(c *Config) { c.Storage.Driver = "mongo" },
		"sqlite no path":   func(c *Config) { c.Storage.Driver = "sqlite" },
		"postgres no dsn":  func(c *Config) { c.Storage.Driver = "postgres" },
		"bad cadence":      func(c *Config) { c.Followup.Cadence = "soon" },
		"negative timeout": func(c *Config) { c.Scheduler.DefaultTimeout = "-1s" },
		"bad timezone":     func(c *Config) { c.Gateway.Timezone = "Mars/Olympus" },
		"negative max":     func(c *Config) { c.Followup.MaxReminders = -1 },
		"chat log no chan": func(c *Config) { c.Logging.Chat.Enabled = true },
		"negative gw rate": func(c *Config) { c.Gateway.RatePerSec = -5 },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := ok()
			mutate(c)
			require.Error(t, Validate(c))
		})
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Storage: StorageConfig{Driver: "postgres", DSN: "postgres://a"}}
	newCfg := &Config{
		Storage:  StorageConfig{Driver: "postgres", DSN: "postgres://b"},
		Telegram: TelegramConfig{OwnerUserIDs: []int64{9}},
		Followup: FollowupConfig{Cadence: "1h"},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"followup", "storage", "telegram"}, changed)
	assert.NotEmpty(t, attrs)

	assert.Equal(t, []string{"storage"}, RestartRequired(oldCfg, newCfg))
	changed, _ = SummarizeChange(newCfg, newCfg)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"storage":{"driver":"memory"}}`)
	m := newTestManager(path, nil)
	_, err := m.Load()
	require.NoError(t, err)

	rejected := make(chan struct{}, 4)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Followup.MaxReminders == 13 {
			rejected <- struct{}{}
			return assert.AnError
		}
		return nil
	})
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"memory"},"followup":{"max_reminders":13}}`), 0o600))
	select {
	case <-rejected:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not attempted")
	}
	assert.Equal(t, 0, m.Get().Followup.MaxReminders)

	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"memory"},"followup":{"max_reminders":5}}`), 0o600))
	select {
	case cfg := <-sub:
		assert.Equal(t, 5, cfg.Followup.MaxReminders)
	case <-time.After(5 * time.Second):
		t.Fatal("config not published")
	}
	assert.Equal(t, 5, m.Get().Followup.MaxReminders)

	cancel()
	require.NoError(t, <-done)
	m.Unsubscribe(sub)
}
