// Package transport holds the chat-platform types shared by the Telegram
// adapter, the outbound gateway and the command router.
package transport

import (
	"context"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event. Exactly one of Message and Callback is set,
// matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Message is an inbound text message. ThreadID is the forum topic (0 outside
// forums) and ReplyToID the message it quotes (0 when it quotes nothing).
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	ReplyToID    int
}

// IsCommand reports whether the text starts with a slash command.
func (m *Message) IsCommand() bool { return strings.HasPrefix(strings.TrimSpace(m.Text), "/") }

// Callback is an inline button press on the message MessageID.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkupAdapter carries platform markup (*telebot.ReplyMarkup).
	ReplyMarkupAdapter any
}

// Adapter is a running chat connection: inbound updates plus replies.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
