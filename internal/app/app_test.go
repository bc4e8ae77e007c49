package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predictbot/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvToken, config.EnvTargetChannel, config.EnvAdminUser, config.EnvScheduleHour, config.EnvScheduleMinute} {
		t.Setenv(k, "")
	}
}

func TestMapDispatchSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Telegram.TargetChatID = -100

	s := mapDispatchSettings(cfg)
	assert.Equal(t, int64(-100), s.TargetChatID)
	assert.Equal(t, 30*time.Second, s.Interval)
	assert.Equal(t, config.DefaultTemplate, s.Template)

	cfg.Dispatch.Interval = "0s"
	assert.Zero(t, mapDispatchSettings(cfg).Interval)

	cfg.Dispatch.Interval = "soon"
	assert.Equal(t, 30*time.Second, mapDispatchSettings(cfg).Interval)
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Driver: " SQLite ", Path: "users.db", BusyTimeout: "3s"}
	rc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", rc.Driver)
	assert.Equal(t, "users.db", rc.Path)
	assert.Equal(t, 3*time.Second, rc.BusyTimeout)

	cfg.Storage.BusyTimeout = ""
	rc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Second, rc.BusyTimeout)

	cfg.Storage.BusyTimeout = "-1s"
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestMapLoggingSendsToAdmin(t *testing.T) {
	cfg := config.Default()
	cfg.Telegram.AdminUserID = 99
	cfg.Logging.Telegram = config.LoggingTelegram{Enabled: true, MinLevel: "error", RatePerSec: 2}

	lc := mapLoggingConfig(cfg)
	assert.True(t, lc.Telegram.Enabled)
	assert.Equal(t, int64(99), lc.Telegram.ChatID)
	assert.Equal(t, "error", lc.Telegram.MinLevel)
}

func TestMapSchedulerAndInfo(t *testing.T) {
	cfg := config.Default()
	hour, minute := 7, 45
	cfg.Scheduler.Hour, cfg.Scheduler.Minute = &hour, &minute

	sc := mapSchedulerConfig(cfg)
	assert.Equal(t, "45 7 * * *", sc.Spec())
	assert.Equal(t, config.DefaultTimezone, sc.Timezone)

	info := mapRouterInfo(cfg)
	assert.Equal(t, 7, info.Hour)
	assert.Equal(t, 45, info.Minute)
}

func TestDiagnose(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	pool := filepath.Join(dir, "quotes.json")
	users := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(pool, []byte(`[{"id":1,"text":"a"},{"id":2,"text":"b"}]`), 0o600))
	require.NoError(t, os.WriteFile(users, []byte(`{"5":{"id":5,"first_name":"Ann"}}`), 0o600))

	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
		"telegram": {"token": "t", "target_chat_id": -1001},
		"scheduler": {"enabled": true, "timezone": "UTC", "hour": 22},
		"dispatch": {"predictions_path": "`+pool+`"},
		"storage": {"driver": "file", "path": "`+users+`"}
	}`), 0o600))

	now := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	d, err := Diagnose(context.Background(), cfgPath, now)
	require.NoError(t, err)
	assert.False(t, d.ConfigMissing)
	assert.True(t, d.TokenSet)
	assert.Equal(t, int64(-1001), d.TargetChatID)
	assert.Equal(t, "22:00", d.Schedule)
	assert.Equal(t, time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC), d.NextDispatch.UTC())
	assert.Equal(t, 2, d.Predictions)
	assert.Equal(t, 1, d.KnownUsers)

	var buf bytes.Buffer
	d.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "bot token:       set")
	assert.Contains(t, out, "admin user:      NOT SET")
	assert.Contains(t, out, "daily at 22:00 (UTC)")
	assert.Contains(t, out, "predictions:     2")
}

func TestDiagnoseReportsInvalidConfig(t *testing.T) {
	clearEnv(t)
	d, err := Diagnose(context.Background(), filepath.Join(t.TempDir(), "absent.json"), time.Now())
	require.Error(t, err)
	assert.True(t, d.ConfigMissing)
}
