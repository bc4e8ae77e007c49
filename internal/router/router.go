package router

import (
	"context"
	"strings"
	"time"

	"predictbot/internal/dispatch"
	"predictbot/internal/registry"
	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
	// AccessTargetChat allows the command only inside the target chat.
	AccessTargetChat
)

type Command struct {
	Name        string
	Description string
	Access      Access
	Handle      HandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	From    *transport.Sender
	FromID  int64
	Command string
	Args    []string
}

// Engine is the dispatch surface used by /force_send and /start.
type Engine interface {
	Run(ctx context.Context, trigger string) (dispatch.Report, error)
	Running() bool
	PoolSize() int
}

// Observer receives every non-command message.
type Observer interface {
	Observe(ctx context.Context, upd transport.Update) bool
}

// Info is the live configuration the commands report.
type Info struct {
	TargetChatID int64
	AdminUserID  int64
	Hour         int
	Minute       int
	Timezone     string
}

type Deps struct {
	Sender  transport.TextSender
	Tracker Observer
	Users   *registry.Users
	Engine  Engine
	Info    func() Info
	// Spawn runs long jobs (manual dispatch) in the background. Defaults to a bare goroutine.
	Spawn func(name string, fn func(ctx context.Context))
	Log   logx.Logger
}

// Router parses "/cmd[@bot] args" messages, enforces access and forwards plain text to the tracker.
type Router struct {
	deps     Deps
	log      logx.Logger
	commands map[string]Command
	order    []string
	timeout  time.Duration
}

func New(deps Deps) *Router {
	if deps.Spawn == nil {
		deps.Spawn = func(_ string, fn func(ctx context.Context)) { go fn(context.Background()) }
	}
	r := &Router{
		deps:     deps,
		log:      deps.Log.With(logx.String("comp", "router")),
		commands: map[string]Command{},
		timeout:  30 * time.Second,
	}
	for _, c := range r.builtins() {
		r.Register(c)
	}
	return r
}

func (r *Router) Register(c Command) {
	if _, ok := r.commands[c.Name]; !ok {
		r.order = append(r.order, c.Name)
	}
	r.commands[c.Name] = c
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	r.log.Info("command dispatcher started", logx.Int("commands", len(r.commands)))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("command dispatcher stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				r.log.Info("command dispatcher stopped (updates channel closed)")
				return nil
			}
			r.Route(ctx, upd)
		}
	}
}

// Route handles a single update.
func (r *Router) Route(ctx context.Context, upd transport.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	name, args, isCmd := ParseCommand(msg.Text)
	if !isCmd {
		if strings.TrimSpace(msg.Text) != "" && r.deps.Tracker != nil {
			r.deps.Tracker.Observe(ctx, upd)
		}
		return
	}
	if upd.Kind == transport.UpdateEdited {
		return
	}

	cmd, ok := r.commands[name]
	if !ok {
		r.log.Debug("unknown command", logx.String("cmd", name), logx.Int64("chat_id", msg.ChatID))
		return
	}
	req := &Request{
		Update:  upd,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		From:    msg.From,
		FromID:  msg.FromID(),
		Command: name,
		Args:    args,
	}

	h := Chain(cmd.Handle,
		recoverPanic(r.log),
		r.requireAccess(cmd.Access),
		logCommand(r.log),
		withTimeout(r.timeout),
	)
	_ = h(ctx, req)
}

func isAdmin(info Info, from int64) bool {
	return info.AdminUserID != 0 && from == info.AdminUserID
}

// ParseCommand splits "/name@bot a b" into ("name", ["a","b"], true).
func ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	_, err := r.deps.Sender.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// MenuCommands lists the commands shown in the client menu. Admin and chat-bound commands are left out.
func (r *Router) MenuCommands() []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		c := r.commands[name]
		if c.Access != AccessEveryone || c.Description == "" {
			continue
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}
