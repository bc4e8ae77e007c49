package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateEdited  UpdateKind = "edited"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Sender identifies the author of a message. It is nil for anonymous channel posts.
type Sender struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
	From     *Sender
	Text     string
	IsGroup  bool
}

// FromID returns the sender id or 0 when the message has no sender.
func (m *Message) FromID() int64 {
	if m == nil || m.From == nil {
		return 0
	}
	return m.From.ID
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// TextSender is the narrow send capability used by components that only reply.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is an entry of the bot's command menu.
type BotCommand struct {
	Command     string
	Description string
}
