package tracker

import (
	"context"

	"predictbot/internal/registry"
	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

// Tracker records authors of messages posted in the target chat.
type Tracker struct {
	users  *registry.Users
	target func() int64
	log    logx.Logger
}

// New returns a tracker. target is read on every event so config reloads apply.
func New(users *registry.Users, target func() int64, log logx.Logger) *Tracker {
	return &Tracker{users: users, target: target, log: log.With(logx.String("comp", "tracker"))}
}

// Observe upserts the sender of a qualifying message and reports whether the registry changed.
//
// Ignored: edited messages, other chats, messages without a sender, and bots.
func (t *Tracker) Observe(ctx context.Context, upd transport.Update) bool {
	if upd.Kind == transport.UpdateEdited || upd.Message == nil {
		return false
	}
	m := upd.Message
	target := t.target()
	if target == 0 || m.ChatID != target {
		return false
	}
	if m.From == nil || m.From.IsBot {
		return false
	}

	p := ProfileOf(m.From)
	if !t.users.Upsert(ctx, p) {
		return false
	}
	t.log.Info("user registered or updated",
		logx.Int64("user_id", p.ID),
		logx.Bool("has_username", p.Username != nil),
		logx.Int("known", t.users.Len()),
	)
	return true
}

// ProfileOf converts a message sender into a registry profile. Empty strings become nil.
func ProfileOf(s *transport.Sender) registry.UserProfile {
	return registry.UserProfile{
		ID:        s.ID,
		FirstName: registry.Str(s.FirstName),
		LastName:  registry.Str(s.LastName),
		Username:  registry.Str(s.Username),
	}
}
