// Package transport holds the chat-platform neutral types shared by the
// relay engine and the Telegram adapter.
package transport

import (
	"context"
	"strconv"
)

// Update is one inbound event from the platform. Exactly one field is set.
type Update struct {
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id, 0 if none
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	Private      bool
	// ReplyTo is set when the message answers another message in the same chat.
	ReplyTo *MessageRef
}

// Ref returns a reference to the message itself.
func (m *Message) Ref() MessageRef {
	return MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
}

// Callback is a press on an inline button.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int // message carrying the button
	Data      string
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

// Key is the stable "chat:message" form used as a relay id.
func (r MessageRef) Key() string {
	return strconv.FormatInt(r.ChatID, 10) + ":" + strconv.Itoa(r.MessageID)
}

func (r MessageRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo threads the sent message under an existing one in the same chat.
	ReplyTo int
	// Buttons is an inline keyboard, one slice per row.
	Buttons [][]Button
}

// Button is an inline button; Data comes back in Callback.Data.
type Button struct {
	Text string
	Data string
}

// Sender is the outbound half of an adapter; the relay engine depends only on it.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// ForwardMessage forwards src with the "forwarded from" header.
	ForwardMessage(ctx context.Context, to ChatTarget, src MessageRef) (MessageRef, error)
	// CopyMessage re-sends src without attribution.
	CopyMessage(ctx context.Context, to ChatTarget, src MessageRef) (MessageRef, error)
}

type Adapter interface {
	Sender
	CallbackAnswerer
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// CallbackAnswerer acknowledges a button press, optionally with a toast or
// an alert.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, id, text string, alert bool) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
