package operator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predictbot/internal/dispatch"
	"predictbot/internal/eventbus"
	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

type dmSender struct {
	mu  sync.Mutex
	got []transport.ChatTarget
	txt []string
}

func (d *dmSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, to)
	d.txt = append(d.txt, text)
	return transport.MessageRef{}, nil
}

func (d *dmSender) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

func TestMessage(t *testing.T) {
	assert.NotEmpty(t, Message(dispatch.EventAborted, dispatch.Report{Outcome: dispatch.OutcomeEmptyPool}))
	assert.Empty(t, Message(dispatch.EventAborted, dispatch.Report{Outcome: dispatch.OutcomeNoUsers}))
	assert.Contains(t, Message(dispatch.EventExhausted, dispatch.Report{Unserved: 3}), "3")
	assert.NotEmpty(t, Message(dispatch.EventFinished, dispatch.Report{Outcome: dispatch.OutcomeCompleted, Failed: 2}))
	assert.Empty(t, Message(dispatch.EventFinished, dispatch.Report{Outcome: dispatch.OutcomeCompleted, Sent: 1, Failed: 2}))
}

func TestRunDMsAdmin(t *testing.T) {
	bus := eventbus.New()
	ds := &dmSender{}
	n := New(bus, ds, func() int64 { return 99 }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Run subscribes asynchronously; publish until the notice arrives.
	require.Eventually(t, func() bool {
		if ds.count() > 0 {
			return true
		}
		bus.Publish(eventbus.Event{Type: dispatch.EventExhausted, Data: dispatch.Report{Unserved: 1}})
		return false
	}, time.Second, 10*time.Millisecond)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	assert.Equal(t, int64(99), ds.got[0].ChatID)
}
