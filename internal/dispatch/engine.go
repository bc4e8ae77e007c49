package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"predictbot/internal/eventbus"
	"predictbot/internal/predictions"
	"predictbot/internal/registry"
	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

var ErrRunInProgress = errors.New("dispatch run already in progress")

// Event types published on the bus. Event.Data is a Report.
const (
	EventAborted   = "dispatch.aborted"
	EventExhausted = "dispatch.exhausted"
	EventFinished  = "dispatch.finished"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNoTarget  Outcome = "no_target"
	OutcomeEmptyPool Outcome = "empty_pool"
	OutcomeNoUsers   Outcome = "no_users"
	// OutcomeExhausted means the pool ran out before every candidate was served.
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCanceled  Outcome = "canceled"
)

// Aborted reports whether the run stopped before sending anything.
func (o Outcome) Aborted() bool {
	return o == OutcomeNoTarget || o == OutcomeEmptyPool || o == OutcomeNoUsers
}

// Report summarizes one run.
type Report struct {
	RunID      string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Candidates int
	Sent       int
	Pruned     int
	Failed     int
	Unserved   int
	SentIDs    []int64
}

func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

func (r Report) record() registry.RunRecord {
	return registry.RunRecord{
		RunID:      r.RunID,
		Trigger:    r.Trigger,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Outcome:    string(r.Outcome),
		Candidates: r.Candidates,
		Sent:       r.Sent,
		Pruned:     r.Pruned,
		Failed:     r.Failed,
		SentIDs:    r.SentIDs,
	}
}

// Settings are read at the start of every run.
type Settings struct {
	TargetChatID int64
	Interval     time.Duration
	Template     string
}

// Auditor receives the record of each finished run.
type Auditor interface {
	RecordRun(ctx context.Context, rec registry.RunRecord)
}

// Engine pairs known users with distinct predictions and posts them to the target chat.
type Engine struct {
	users    *registry.Users
	pool     *predictions.Pool
	sender   transport.TextSender
	audit    Auditor
	bus      eventbus.Bus
	log      logx.Logger
	settings func() Settings

	running atomic.Bool
	session *Session

	rngMu   sync.Mutex
	rng     *rand.Rand
	wait    func(ctx context.Context, d time.Duration) error
	newID   func() string
	nowFunc func() time.Time
}

type Option func(*Engine)

// WithRand makes shuffling deterministic.
func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rng = r } }

// WithWait replaces the pause between successful sends.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.wait = fn }
}

func WithAuditor(a Auditor) Option { return func(e *Engine) { e.audit = a } }

func WithBus(b eventbus.Bus) Option { return func(e *Engine) { e.bus = b } }

func New(users *registry.Users, pool *predictions.Pool, sender transport.TextSender, settings func() Settings, log logx.Logger, opts ...Option) *Engine {
	e := &Engine{
		users:    users,
		pool:     pool,
		sender:   sender,
		bus:      eventbus.Nop{},
		log:      log.With(logx.String("comp", "dispatch")),
		settings: settings,
		session:  NewSession(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		wait:     sleepCtx,
		newID:    func() string { return uuid.NewString() },
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// PoolSize is the number of loaded predictions.
func (e *Engine) PoolSize() int { return e.pool.Len() }

// Run executes one dispatch run. trigger labels the run in logs and the audit ("schedule", "manual").
// It returns ErrRunInProgress when another run has not finished yet.
func (e *Engine) Run(ctx context.Context, trigger string) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer e.running.Store(false)

	rep := Report{RunID: e.newID(), Trigger: trigger, StartedAt: e.nowFunc()}
	log := e.log.With(logx.String("run_id", rep.RunID), logx.String("trigger", trigger))

	rep.Outcome = e.run(ctx, log, &rep)
	rep.FinishedAt = e.nowFunc()
	rep.SentIDs = e.session.IDs()
	e.session.Reset()

	fields := []logx.Field{
		logx.String("outcome", string(rep.Outcome)),
		logx.Int("candidates", rep.Candidates),
		logx.Int("sent", rep.Sent),
		logx.Int("pruned", rep.Pruned),
		logx.Int("failed", rep.Failed),
		logx.Int("unserved", rep.Unserved),
		logx.Duration("dur", rep.Duration()),
	}
	switch {
	case rep.Outcome.Aborted():
		log.Warn("dispatch run aborted", fields...)
		e.bus.Publish(eventbus.Event{Type: EventAborted, Data: rep})
	case rep.Failed > 0:
		log.Warn("dispatch run finished with failures", fields...)
	default:
		log.Info("dispatch run finished", fields...)
	}
	if rep.Outcome == OutcomeExhausted {
		e.bus.Publish(eventbus.Event{Type: EventExhausted, Data: rep})
	}
	e.bus.Publish(eventbus.Event{Type: EventFinished, Data: rep})

	if e.audit != nil && !rep.Outcome.Aborted() {
		e.audit.RecordRun(context.WithoutCancel(ctx), rep.record())
	}
	return rep, nil
}

func (e *Engine) run(ctx context.Context, log logx.Logger, rep *Report) Outcome {
	e.session.Reset()
	st := e.settings()

	if st.TargetChatID == 0 {
		return OutcomeNoTarget
	}
	if e.pool.Empty() {
		return OutcomeEmptyPool
	}

	reg := e.users.Reload(ctx)
	if len(reg) == 0 {
		return OutcomeNoUsers
	}

	candidates := make([]registry.UserProfile, 0, len(reg))
	for _, p := range reg {
		candidates = append(candidates, p)
	}
	// map order is random but not uniform; sort first so the shuffle alone decides
	sortProfiles(candidates)
	e.shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	rep.Candidates = len(candidates)

	available := e.pool.Except(e.session.Sent())
	e.shuffle(len(available), func(i, j int) { available[i], available[j] = available[j], available[i] })
	if len(available) == 0 {
		rep.Unserved = len(candidates)
		return OutcomeExhausted
	}

	log.Info("dispatch run started", logx.Int("candidates", len(candidates)), logx.Int("available", len(available)))

	target := transport.ChatTarget{ChatID: st.TargetChatID}
	opt := &transport.SendOptions{ParseMode: transport.ParseModeMarkdown}

	for i, user := range candidates {
		if ctx.Err() != nil {
			rep.Unserved = len(candidates) - i
			return OutcomeCanceled
		}
		if len(available) == 0 {
			rep.Unserved = len(candidates) - i
			log.Warn("predictions exhausted; not every user was served", logx.Int("unserved", rep.Unserved))
			return OutcomeExhausted
		}

		pred := available[0]
		available = available[1:]
		text := Render(st.Template, user, pred.Text)

		_, err := e.sender.SendText(ctx, target, text, opt)
		switch {
		case err == nil:
			e.session.MarkSent(pred.ID)
			rep.Sent++
			log.Debug("prediction sent",
				logx.Int64("user_id", user.ID),
				logx.Int64("prediction_id", pred.ID),
				logx.Int("remaining", len(available)),
			)
			if i < len(candidates)-1 && st.Interval > 0 {
				if err := e.wait(ctx, st.Interval); err != nil {
					rep.Unserved = len(candidates) - i - 1
					return OutcomeCanceled
				}
			}
		case transport.IsUnreachable(err):
			rep.Pruned++
			e.users.Remove(ctx, user.ID)
			log.Warn("user unreachable; removed from registry",
				logx.Int64("user_id", user.ID),
				logx.String("user", DisplayName(user)),
				logx.Err(err),
			)
		default:
			rep.Failed++
			log.Warn("prediction send failed",
				logx.Int64("user_id", user.ID),
				logx.Int64("prediction_id", pred.ID),
				logx.Err(err),
			)
		}
	}
	return OutcomeCompleted
}

func (e *Engine) shuffle(n int, swap func(i, j int)) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	e.rng.Shuffle(n, swap)
}

func sortProfiles(ps []registry.UserProfile) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
