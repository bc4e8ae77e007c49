package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"predictbot/internal/config"
	"predictbot/internal/predictions"
	"predictbot/internal/registry"
	"predictbot/internal/scheduler"
	logx "predictbot/pkg/logx"
)

// Diagnostics is what `check` reports about a configuration.
type Diagnostics struct {
	ConfigPath    string
	ConfigMissing bool
	TokenSet      bool
	TargetChatID  int64
	AdminUserID   int64
	Schedule      string
	Timezone      string
	NextDispatch  time.Time
	Interval      time.Duration
	Predictions   int
	KnownUsers    int
	StorageDriver string
	StoragePath   string
}

// Diagnose loads the configuration the way NewApp does and inspects the pool and registry
// without connecting to Telegram.
func Diagnose(ctx context.Context, cfgPath string, now time.Time) (Diagnostics, error) {
	d := Diagnostics{ConfigPath: cfgPath}
	cfg, missing, err := config.NewConfigManager(cfgPath).Parse()
	d.ConfigMissing = missing
	if err != nil {
		return d, err
	}

	sc := mapSchedulerConfig(cfg)
	d.TokenSet = cfg.Telegram.Token != ""
	d.TargetChatID = cfg.Telegram.TargetChatID
	d.AdminUserID = cfg.Telegram.AdminUserID
	d.Timezone = sc.Timezone
	if sc.Enabled {
		d.Schedule = fmt.Sprintf("%02d:%02d", sc.Hour, sc.Minute)
		if next, err := scheduler.NextAfter(sc, now); err == nil {
			d.NextDispatch = next
		}
	}
	d.Interval = mapDispatchSettings(cfg).Interval
	d.Predictions = predictions.Load(cfg.Dispatch.PredictionsPath, logx.Nop()).Len()

	rc, err := mapStorageConfig(cfg)
	if err != nil {
		return d, err
	}
	d.StorageDriver, d.StoragePath = rc.Driver, rc.Path
	backend, err := registry.Open(rc, logx.Nop())
	if err != nil {
		return d, fmt.Errorf("registry: %w", err)
	}
	store := registry.NewStore(backend, logx.Nop())
	defer store.Close()
	d.KnownUsers = len(store.Load(ctx))
	return d, nil
}

// Print writes the diagnostics as aligned "key: value" lines.
func (d Diagnostics) Print(w io.Writer) {
	yesNo := func(b bool) string {
		if b {
			return "set"
		}
		return "NOT SET"
	}
	idOrUnset := func(id int64) string {
		if id == 0 {
			return "NOT SET"
		}
		return fmt.Sprint(id)
	}

	cfgState := d.ConfigPath
	if d.ConfigMissing {
		cfgState += " (missing, defaults + environment)"
	}
	schedule := "disabled"
	if d.Schedule != "" {
		schedule = fmt.Sprintf("daily at %s (%s)", d.Schedule, d.Timezone)
	}

	fmt.Fprintf(w, "config:          %s\n", cfgState)
	fmt.Fprintf(w, "bot token:       %s\n", yesNo(d.TokenSet))
	fmt.Fprintf(w, "target chat:     %s\n", idOrUnset(d.TargetChatID))
	fmt.Fprintf(w, "admin user:      %s\n", idOrUnset(d.AdminUserID))
	fmt.Fprintf(w, "schedule:        %s\n", schedule)
	if !d.NextDispatch.IsZero() {
		fmt.Fprintf(w, "next dispatch:   %s\n", d.NextDispatch.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "send interval:   %s\n", d.Interval)
	fmt.Fprintf(w, "predictions:     %d\n", d.Predictions)
	fmt.Fprintf(w, "known users:     %d (%s: %s)\n", d.KnownUsers, d.StorageDriver, d.StoragePath)
}
