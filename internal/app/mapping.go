package app

import (
	"strings"
	"time"

	"predictbot/internal/config"
	"predictbot/internal/dispatch"
	"predictbot/internal/outbox"
	"predictbot/internal/registry"
	"predictbot/internal/router"
	"predictbot/internal/scheduler"
	logx "predictbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.AdminUserID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (registry.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return registry.Config{}, err
	}
	return registry.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
		Hour:     cfg.Scheduler.ScheduleHour(),
		Minute:   cfg.Scheduler.ScheduleMinute(),
	}
}

func mapOutboxConfig(cfg *config.Config) outbox.Config {
	return outbox.Config{
		RatePerSec: cfg.Dispatch.RatePerSec,
		QueueSize:  cfg.Dispatch.QueueSize,
	}
}

// mapDispatchSettings never fails: an interval that does not parse falls back to the default.
// An explicit "0s" disables the pause.
func mapDispatchSettings(cfg *config.Config) dispatch.Settings {
	interval, err := config.ParseDurationField("dispatch.interval", cfg.Dispatch.Interval)
	if err != nil {
		interval, _ = time.ParseDuration(config.DefaultInterval)
	}
	return dispatch.Settings{
		TargetChatID: cfg.Telegram.TargetChatID,
		Interval:     interval,
		Template:     cfg.Dispatch.Template,
	}
}

func mapRouterInfo(cfg *config.Config) router.Info {
	return router.Info{
		TargetChatID: cfg.Telegram.TargetChatID,
		AdminUserID:  cfg.Telegram.AdminUserID,
		Hour:         cfg.Scheduler.ScheduleHour(),
		Minute:       cfg.Scheduler.ScheduleMinute(),
		Timezone:     cfg.Scheduler.Timezone,
	}
}
