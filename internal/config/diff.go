package config

import (
	"strings"

	logx "predictbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured attrs
// for logging. The bot token is never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.TargetChatID != nt.TargetChatID || ot.AdminUserID != nt.AdminUserID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		(ot.Token != nt.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.target_chat_id", nt.TargetChatID),
			logx.Bool("telegram.admin_set", nt.AdminUserID != 0),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	olds, news := oldCfg.Scheduler, newCfg.Scheduler
	if olds.Enabled != news.Enabled || strings.TrimSpace(olds.Timezone) != strings.TrimSpace(news.Timezone) ||
		olds.ScheduleHour() != news.ScheduleHour() || olds.ScheduleMinute() != news.ScheduleMinute() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", news.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(news.Timezone)),
			logx.Int("scheduler.hour", news.ScheduleHour()),
			logx.Int("scheduler.minute", news.ScheduleMinute()),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.predictions_path", newCfg.Dispatch.PredictionsPath),
			logx.String("dispatch.interval", newCfg.Dispatch.Interval),
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	return changed, attrs
}

// RestartRequired reports whether a change can only take effect after a restart.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		if s == "telegram" || s == "storage" {
			return true
		}
	}
	return false
}
