package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"predictbot/internal/config"
	"predictbot/internal/dispatch"
	"predictbot/internal/eventbus"
	"predictbot/internal/operator"
	"predictbot/internal/outbox"
	"predictbot/internal/predictions"
	"predictbot/internal/registry"
	"predictbot/internal/router"
	"predictbot/internal/runtime/supervisor"
	"predictbot/internal/scheduler"
	"predictbot/internal/tracker"
	"predictbot/internal/transport"
	"predictbot/internal/transport/telegram"
	logx "predictbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *registry.Store
	users *registry.Users
	pool  *predictions.Pool

	adapter *telegram.Adapter
	outbox  *outbox.Service

	engine   *dispatch.Engine
	sched    *scheduler.Service
	router   *router.Router
	operator *operator.Notifier

	updates chan transport.Update
}

// NewApp loads configuration and builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	alog := log.With(logx.String("comp", "app"))
	if cfgm.Missing() {
		alog.Warn("config file not found; using defaults and environment", logx.String("path", cfgPath))
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	backend, err := registry.Open(sc, log)
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("registry: %w", err)
	}
	store := registry.NewStore(backend, log)
	users := registry.NewUsers(store)

	pool := predictions.Load(cfg.Dispatch.PredictionsPath, log)

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	// log records bypass the outbox
	logSvc.SetSender(ad)

	ob := outbox.New(mapOutboxConfig(cfg), ad, log)
	bus := eventbus.New()

	engine := dispatch.New(users, pool, ob,
		func() dispatch.Settings { return mapDispatchSettings(cfgm.Get()) },
		log,
		dispatch.WithAuditor(store),
		dispatch.WithBus(bus),
	)

	a := &App{
		cfgm:    cfgm,
		log:     alog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		users:   users,
		pool:    pool,
		adapter: ad,
		outbox:  ob,
		engine:  engine,
		updates: make(chan transport.Update, 256),
	}

	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.scheduledRun, log)
	a.operator = operator.New(bus, ob, func() int64 { return cfgm.Get().Telegram.AdminUserID }, log)
	a.router = router.New(router.Deps{
		Sender:  ob,
		Tracker: tracker.New(users, func() int64 { return cfgm.Get().Telegram.TargetChatID }, log),
		Users:   users,
		Engine:  engine,
		Info:    func() router.Info { return mapRouterInfo(cfgm.Get()) },
		Spawn:   a.spawn,
		Log:     log,
	})
	return a, nil
}

func (a *App) scheduledRun(ctx context.Context) {
	if _, err := a.engine.Run(ctx, "schedule"); err != nil {
		a.log.Warn("scheduled dispatch skipped", logx.Err(err))
	}
}

// spawn runs fn under the app supervisor so shutdown cancels it.
func (a *App) spawn(name string, fn func(ctx context.Context)) {
	if a.sup == nil {
		go fn(context.Background())
		return
	}
	a.sup.Go0(name, fn)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	a.users.Reload(sctx)
	a.log.Info("starting",
		logx.Int64("target_chat_id", a.cfgm.Get().Telegram.TargetChatID),
		logx.Bool("admin_set", a.cfgm.Get().Telegram.AdminUserID != 0),
		logx.Int("predictions", a.pool.Len()),
		logx.Int("known_users", a.users.Len()),
	)

	if err := a.adapter.Start(sctx, a.updates); err != nil {
		return err
	}
	if err := a.adapter.SetCommands(a.router.MenuCommands()); err != nil {
		a.log.Warn("failed to publish command menu", logx.Err(err))
	}

	a.sup.Go("outbox", a.outbox.Run)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("operator", a.operator.Run)

	if err := a.sched.Start(sctx); err != nil {
		return err
	}

	a.sup.Go0("eventbus.log", a.logEvents)
	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	if next, ok := a.sched.Next(); ok {
		a.log.Info("app started", logx.Time("next_dispatch", next))
	} else {
		a.log.Info("app started")
	}
	return nil
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// startConfigReload fans committed config changes out to the live components.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.outbox.Apply(mapOutboxConfig(next))
	if err := a.sched.Apply(mapSchedulerConfig(next)); err != nil {
		a.log.Warn("scheduler config rejected; trigger disabled until fixed", logx.Err(err))
	}
	if next.Dispatch.PredictionsPath != prev.Dispatch.PredictionsPath {
		a.log.Warn("dispatch.predictions_path changed; restart required to load the new pool")
	}
	if config.RestartRequired(sections) {
		a.log.Warn("telegram or storage config changed; restart required for changes to take effect")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in order: trigger, inbound routing, outbound queue, transport, storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// canceling the supervisor ends the dispatcher, outbox worker and any manual run
	a.sup.Cancel()
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("registry", time.Second, func(context.Context) error { return a.store.Close() })

	if err := a.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("stopped after failure", logx.Err(err))
	} else {
		a.log.Info("stopped")
	}
	return a.logs.Close()
}
