package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	logx "predictbot/pkg/logx"
)

// Environment variables that override file values.
const (
	EnvToken          = "TELEGRAM_BOT_TOKEN"
	EnvTargetChannel  = "TARGET_CHANNEL_ID"
	EnvAdminUser      = "ADMIN_USER_ID"
	EnvScheduleHour   = "SCHEDULE_HOUR"
	EnvScheduleMinute = "SCHEDULE_MINUTE"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into the
// process environment. Missing files are not an error; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	present := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overrides cfg with values from lookup (os.LookupEnv in production).
//
// An unparsable TARGET_CHANNEL_ID is a configuration error. Unparsable admin,
// hour or minute values are ignored and the previous values stay.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTargetChannel); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: must be a number, got %q", EnvTargetChannel, v)
		}
		cfg.Telegram.TargetChatID = id
	}
	if v, ok := get(EnvAdminUser); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			cfg.Telegram.AdminUserID = id
		}
	}
	if v, ok := get(EnvScheduleHour); ok {
		if h, err := strconv.Atoi(v); err == nil && h >= 0 {
			cfg.Scheduler.Hour = &h
		}
	}
	if v, ok := get(EnvScheduleMinute); ok {
		if m, err := strconv.Atoi(v); err == nil && m >= 0 {
			cfg.Scheduler.Minute = &m
		}
	}
	return nil
}

// Validate reports configuration errors that must stop startup.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or %s)", EnvToken))
	}
	if c.Telegram.TargetChatID == 0 {
		errs = append(errs, fmt.Errorf("telegram.target_chat_id is required (or %s)", EnvTargetChannel))
	}
	if h := c.Scheduler.ScheduleHour(); h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("scheduler.hour must be within 0..23, got %d", h))
	}
	if m := c.Scheduler.ScheduleMinute(); m < 0 || m > 59 {
		errs = append(errs, fmt.Errorf("scheduler.minute must be within 0..59, got %d", m))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("dispatch.interval", c.Dispatch.Interval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := logx.ValidLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if err := logx.ValidLevel(c.Logging.Telegram.MinLevel); err != nil {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: %w", err))
	}
	if c.Dispatch.RatePerSec < 0 || c.Dispatch.QueueSize < 0 {
		errs = append(errs, errors.New("dispatch.rate_per_sec and dispatch.queue_size must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// Location returns the scheduler time zone (falls back to UTC when invalid).
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Scheduler.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
