package config

// Config is the on-disk bot configuration (JSON, or YAML coerced to JSON).
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// TargetChatID is the single chat whose members receive predictions.
	TargetChatID int64 `json:"target_chat_id"`
	// AdminUserID receives operator notifications and may use admin commands. 0 disables both.
	AdminUserID int64 `json:"admin_user_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log records to the admin chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the daily dispatch trigger.
//
// Hour and Minute are pointers so an explicit 0 (midnight) can be told apart from "omitted".
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, default Europe/Moscow
	Hour     *int   `json:"hour,omitempty"`
	Minute   *int   `json:"minute,omitempty"`
}

// DispatchConfig controls the prediction pool and outbound pacing.
type DispatchConfig struct {
	PredictionsPath string `json:"predictions_path,omitempty"`
	// Interval is the pause after every successful prediction (Go duration string).
	Interval string `json:"interval,omitempty"`
	// RatePerSec caps raw outbound sends regardless of Interval.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	// Template formats a prediction; {mention} and {text} are replaced.
	Template string `json:"template,omitempty"`
}

// StorageConfig selects the registry backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./known_users.json" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultTimezone        = "Europe/Moscow"
	DefaultHour            = 22
	DefaultMinute          = 0
	DefaultPredictionsPath = "quotes_1000.json"
	DefaultRegistryPath    = "known_users.json"
	DefaultInterval        = "30s"
	DefaultTemplate        = "{mention}, ваше предсказание на сегодня: {text}"
)

// ScheduleHour returns the configured hour or the default.
func (c SchedulerConfig) ScheduleHour() int {
	if c.Hour == nil {
		return DefaultHour
	}
	return *c.Hour
}

// ScheduleMinute returns the configured minute or the default.
func (c SchedulerConfig) ScheduleMinute() int {
	if c.Minute == nil {
		return DefaultMinute
	}
	return *c.Minute
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills omitted fields.
func (c *Config) ApplyDefaults() {
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = DefaultTimezone
	}
	if c.Dispatch.PredictionsPath == "" {
		c.Dispatch.PredictionsPath = DefaultPredictionsPath
	}
	if c.Dispatch.Interval == "" {
		c.Dispatch.Interval = DefaultInterval
	}
	if c.Dispatch.Template == "" {
		c.Dispatch.Template = DefaultTemplate
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultRegistryPath
	}
}
