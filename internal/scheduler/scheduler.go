package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "predictbot/pkg/logx"
)

// Config is the daily trigger time in a fixed time zone.
type Config struct {
	Enabled  bool
	Timezone string
	Hour     int
	Minute   int
}

// Spec returns the 5-field cron expression for the daily trigger.
func (c Config) Spec() string { return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour) }

// Service fires job once a day at the configured local time.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	parser cron.Parser
	job    func(ctx context.Context)

	ctx   context.Context
	c     *cron.Cron
	loc   *time.Location
	entry cron.EntryID
}

func New(cfg Config, job func(ctx context.Context), log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		job:    job,
	}
}

// Start begins triggering. ctx is passed to every job invocation.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if !s.cfg.Enabled {
		s.log.Info("daily trigger disabled")
		return nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(s.cfg.Timezone))
	if err != nil {
		return fmt.Errorf("scheduler timezone %q: %w", s.cfg.Timezone, err)
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	ctx := s.ctx
	id, err := c.AddFunc(s.cfg.Spec(), func() {
		if ctx.Err() != nil {
			return
		}
		s.log.Info("daily trigger fired")
		s.job(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler spec %q: %w", s.cfg.Spec(), err)
	}
	c.Start()
	s.c, s.loc, s.entry = c, loc, id

	s.log.Info("service started",
		logx.String("tz", loc.String()),
		logx.String("spec", s.cfg.Spec()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Stop halts triggering and waits for a running job up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Apply switches to a new time or zone. The cron instance is rebuilt only when something changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	if s.c != nil {
		// do not wait: a running job may take minutes and Apply runs on the reload path
		s.c.Stop()
		s.c = nil
	}
	return s.startLocked()
}

// Next returns the next trigger time, or false when triggering is off.
func (s *Service) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, false
	}
	return s.c.Entry(s.entry).Next, true
}

// NextAfter computes the trigger following t without a running service.
func NextAfter(cfg Config, t time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(cfg.Spec())
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.In(loc)), nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
