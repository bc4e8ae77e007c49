package operator

import (
	"context"
	"fmt"
	"time"

	"predictbot/internal/dispatch"
	"predictbot/internal/eventbus"
	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

// Notifier direct-messages the administrator about dispatch runs that need attention.
type Notifier struct {
	bus    eventbus.Bus
	sender transport.TextSender
	admin  func() int64
	log    logx.Logger
}

func New(bus eventbus.Bus, sender transport.TextSender, admin func() int64, log logx.Logger) *Notifier {
	return &Notifier{bus: bus, sender: sender, admin: admin, log: log.With(logx.String("comp", "operator"))}
}

// Run forwards bus events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ch, unsub := n.bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			n.handle(ctx, e)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, e eventbus.Event) {
	rep, ok := e.Data.(dispatch.Report)
	if !ok {
		return
	}
	text := Message(e.Type, rep)
	if text == "" {
		return
	}
	admin := n.admin()
	if admin == 0 {
		n.log.Info("operator notice (no admin configured)", logx.String("event", e.Type), logx.String("text", text))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := n.sender.SendText(sctx, transport.ChatTarget{ChatID: admin}, text, nil); err != nil {
		n.log.Warn("operator notice failed", logx.String("event", e.Type), logx.Err(err))
	}
}

// Message returns the administrator text for an event, or "" when none is due.
func Message(eventType string, rep dispatch.Report) string {
	switch eventType {
	case dispatch.EventAborted:
		if rep.Outcome == dispatch.OutcomeEmptyPool {
			return "Администратору: список предсказаний пуст. Не могу начать рассылку."
		}
	case dispatch.EventExhausted:
		return fmt.Sprintf("Уникальные предсказания на сегодня закончились! Без предсказания остались: %d.", rep.Unserved)
	case dispatch.EventFinished:
		if rep.Outcome == dispatch.OutcomeCompleted && rep.Sent == 0 && rep.Failed > 0 {
			return fmt.Sprintf("Рассылка не удалась: ни одно сообщение не отправлено (ошибок: %d).", rep.Failed)
		}
	}
	return ""
}
