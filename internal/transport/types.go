package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// update platform-specific command menus (e.g. Telegram's / autocomplete).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
