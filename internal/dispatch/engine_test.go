package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predictbot/internal/eventbus"
	"predictbot/internal/predictions"
	"predictbot/internal/registry"
	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

const target = int64(-100777)

type memBackend struct {
	mu   sync.Mutex
	reg  registry.Registry
	runs []registry.RunRecord
}

func (m *memBackend) Read(context.Context) (registry.Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.Clone(), nil
}

func (m *memBackend) Write(_ context.Context, r registry.Registry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = r.Clone()
	return nil
}

func (m *memBackend) AppendRun(_ context.Context, rec registry.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	return nil
}

func (m *memBackend) Close() error { return nil }

type sent struct {
	chat int64
	text string
	mode string
}

// scriptedSender fails messages whose text contains a key of fail.
type scriptedSender struct {
	mu    sync.Mutex
	sent  []sent
	fail  map[string]error
	block chan struct{}
}

func (s *scriptedSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, err := range s.fail {
		if strings.Contains(text, k) {
			return transport.MessageRef{}, err
		}
	}
	s.sent = append(s.sent, sent{chat: to.ChatID, text: text, mode: opt.ParseMode})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.sent)}, nil
}

type fixture struct {
	engine  *Engine
	backend *memBackend
	sender  *scriptedSender
	waits   []time.Duration
}

func newFixture(t *testing.T, reg registry.Registry, pool []predictions.Prediction, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{backend: &memBackend{reg: reg}, sender: &scriptedSender{}}
	store := registry.NewStore(f.backend, logx.Nop())
	users := registry.NewUsers(store)
	settings := func() Settings {
		return Settings{TargetChatID: target, Interval: 30 * time.Second, Template: DefaultTemplate}
	}
	base := []Option{
		WithRand(rand.New(rand.NewSource(1))),
		WithWait(func(_ context.Context, d time.Duration) error {
			f.waits = append(f.waits, d)
			return nil
		}),
		WithAuditor(store),
	}
	f.engine = New(users, predictions.NewPool(pool), f.sender, settings, logx.Nop(), append(base, opts...)...)
	return f
}

func twoUsers() registry.Registry {
	return registry.Registry{
		1: {ID: 1, Username: registry.Str("a")},
		2: {ID: 2, FirstName: registry.Str("B")},
	}
}

func TestRunServesEveryUserOnce(t *testing.T) {
	f := newFixture(t, twoUsers(), []predictions.Prediction{{ID: 10, Text: "X"}, {ID: 11, Text: "Y"}})

	rep, err := f.engine.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, rep.Outcome)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, []int64{10, 11}, rep.SentIDs)
	require.Len(t, f.sender.sent, 2)

	var texts []string
	for _, s := range f.sender.sent {
		assert.Equal(t, target, s.chat)
		assert.Equal(t, transport.ParseModeMarkdown, s.mode)
		texts = append(texts, s.text)
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "@a, ваше предсказание на сегодня: ")
	assert.Contains(t, joined, "[B](tg://user?id=2), ваше предсказание на сегодня: ")
	assert.True(t, strings.HasSuffix(texts[0], "X") != strings.HasSuffix(texts[1], "X"), "predictions must not repeat")

	// pause only between successful sends
	assert.Equal(t, []time.Duration{30 * time.Second}, f.waits)

	require.Len(t, f.backend.runs, 1)
	assert.Equal(t, "completed", f.backend.runs[0].Outcome)
	assert.Equal(t, rep.RunID, f.backend.runs[0].RunID)
}

func TestRunExhaustion(t *testing.T) {
	reg := registry.Registry{}
	for i := int64(1); i <= 5; i++ {
		reg[i] = registry.UserProfile{ID: i, Username: registry.Str("u")}
	}
	f := newFixture(t, reg, []predictions.Prediction{{ID: 1, Text: "p1"}, {ID: 2, Text: "p2"}})
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	f.engine.bus = bus

	rep, err := f.engine.Run(context.Background(), "schedule")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, rep.Outcome)
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 3, rep.Unserved)
	assert.Len(t, f.sender.sent, 2)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{EventExhausted, EventFinished}, types)
}

func TestRunPrunesUnreachableUser(t *testing.T) {
	f := newFixture(t, twoUsers(), []predictions.Prediction{{ID: 10, Text: "X"}, {ID: 11, Text: "Y"}, {ID: 12, Text: "Z"}})
	f.sender.fail = map[string]error{"@a": errors.New("telegram: Forbidden: bot was blocked by the user (403)")}

	rep, err := f.engine.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Pruned)
	assert.Equal(t, 1, rep.Sent)
	assert.NotContains(t, f.backend.reg, int64(1))
	assert.Contains(t, f.backend.reg, int64(2))
	// one success, and user 2 may or may not be last
	assert.LessOrEqual(t, len(f.waits), 1)
}

func TestRunTransientFailureKeepsUser(t *testing.T) {
	f := newFixture(t, twoUsers(), []predictions.Prediction{{ID: 10, Text: "X"}, {ID: 11, Text: "Y"}})
	f.sender.fail = map[string]error{"[B]": errors.New("telegram: Too Many Requests: retry after 5 (429)")}

	rep, err := f.engine.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, rep.Outcome)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Sent)
	assert.Len(t, rep.SentIDs, 1)
	assert.Contains(t, f.backend.reg, int64(2))
}

func TestRunAborts(t *testing.T) {
	t.Run("empty pool", func(t *testing.T) {
		f := newFixture(t, twoUsers(), nil)
		bus := eventbus.New()
		ch, unsub := bus.Subscribe(4)
		defer unsub()
		f.engine.bus = bus

		rep, err := f.engine.Run(context.Background(), "schedule")
		require.NoError(t, err)
		assert.Equal(t, OutcomeEmptyPool, rep.Outcome)
		assert.Empty(t, f.sender.sent)
		assert.Empty(t, f.backend.runs)

		e := <-ch
		assert.Equal(t, EventAborted, e.Type)
		assert.Equal(t, OutcomeEmptyPool, e.Data.(Report).Outcome)
	})

	t.Run("no users", func(t *testing.T) {
		f := newFixture(t, registry.Registry{}, []predictions.Prediction{{ID: 1, Text: "x"}})
		rep, err := f.engine.Run(context.Background(), "schedule")
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoUsers, rep.Outcome)
	})

	t.Run("no target", func(t *testing.T) {
		f := newFixture(t, twoUsers(), []predictions.Prediction{{ID: 1, Text: "x"}})
		f.engine.settings = func() Settings { return Settings{} }
		rep, err := f.engine.Run(context.Background(), "schedule")
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoTarget, rep.Outcome)
		assert.Empty(t, f.sender.sent)
	})
}

func TestRunReloadsRegistry(t *testing.T) {
	f := newFixture(t, registry.Registry{}, []predictions.Prediction{{ID: 1, Text: "x"}})
	// written behind the engine's back, e.g. by another process
	f.backend.reg = registry.Registry{3: {ID: 3, Username: registry.Str("late")}}

	rep, err := f.engine.Run(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)
	assert.Contains(t, f.sender.sent[0].text, "@late")
}

func TestRunRejectsOverlap(t *testing.T) {
	f := newFixture(t, twoUsers(), []predictions.Prediction{{ID: 10, Text: "X"}, {ID: 11, Text: "Y"}})
	f.sender.block = make(chan struct{})

	done := make(chan Report)
	go func() {
		rep, _ := f.engine.Run(context.Background(), "schedule")
		done <- rep
	}()
	require.Eventually(t, f.engine.Running, time.Second, time.Millisecond)

	_, err := f.engine.Run(context.Background(), "manual")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.sender.block)
	rep := <-done
	assert.Equal(t, 2, rep.Sent)
	assert.False(t, f.engine.Running())
}

func TestRunCanceledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, twoUsers(), []predictions.Prediction{{ID: 10, Text: "X"}, {ID: 11, Text: "Y"}},
		WithWait(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	rep, err := f.engine.Run(ctx, "schedule")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, rep.Outcome)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Unserved)
}

func TestMention(t *testing.T) {
	assert.Equal(t, "@nick", Mention(registry.UserProfile{ID: 1, Username: registry.Str("nick")}))
	assert.Equal(t, "[Ann](tg://user?id=2)", Mention(registry.UserProfile{ID: 2, FirstName: registry.Str("[Ann]")}))
	assert.Equal(t, "[User 3](tg://user?id=3)", Mention(registry.UserProfile{ID: 3}))
	assert.Equal(t, "hi @nick: {text}", Render("hi {mention}: {text}", registry.UserProfile{Username: registry.Str("nick")}, "{text}"))
}
