package outbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

var ErrStopped = errors.New("outbox stopped")

type Config struct {
	RatePerSec int
	QueueSize  int
}

func (c Config) normalized() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// Stats are cumulative counters since start.
type Stats struct {
	Sent   uint64
	Failed uint64
}

type job struct {
	ctx  context.Context
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
	res  chan result
}

type result struct {
	ref transport.MessageRef
	err error
}

// Service serializes all outbound messages through one worker and a global rate limit.
// It implements transport.TextSender; callers block until their message was handled.
type Service struct {
	sender transport.TextSender
	log    logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter

	queue   chan job
	stopped chan struct{}
	once    sync.Once

	sent   atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, sender transport.TextSender, log logx.Logger) *Service {
	cfg = cfg.normalized()
	return &Service{
		sender:  sender,
		log:     log.With(logx.String("comp", "outbox")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan job, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
}

// Apply swaps the rate limit. Queue size changes need a restart.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalized()
	s.mu.Lock()
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

// SendText enqueues a message and waits for the send result.
func (s *Service) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	j := job{ctx: ctx, to: to, text: text, opt: opt, res: make(chan result, 1)}
	select {
	case <-ctx.Done():
		return transport.MessageRef{}, ctx.Err()
	case <-s.stopped:
		return transport.MessageRef{}, ErrStopped
	case s.queue <- j:
	}
	select {
	case <-ctx.Done():
		return transport.MessageRef{}, ctx.Err()
	case <-s.stopped:
		return transport.MessageRef{}, ErrStopped
	case r := <-j.res:
		return r.ref, r.err
	}
}

// Run drains the queue until ctx is done. It is meant to run under the supervisor.
func (s *Service) Run(ctx context.Context) error {
	defer s.once.Do(func() { close(s.stopped) })
	s.log.Debug("outbox worker started", logx.Int("queue_cap", cap(s.queue)))
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			return nil
		case j := <-s.queue:
			ref, err := s.sendOne(j)
			j.res <- result{ref: ref, err: err}
		}
	}
}

func (s *Service) sendOne(j job) (transport.MessageRef, error) {
	if err := j.ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if err := lim.Wait(j.ctx); err != nil {
		return transport.MessageRef{}, err
	}

	ref, err := s.sender.SendText(j.ctx, j.to, j.text, j.opt)
	if err != nil {
		s.failed.Add(1)
		s.log.Debug("send failed",
			logx.Int64("chat_id", j.to.ChatID),
			logx.Bool("unreachable", transport.IsUnreachable(err)),
			logx.Err(err),
		)
		return ref, err
	}
	s.sent.Add(1)
	return ref, nil
}
