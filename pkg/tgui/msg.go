package tgui

import (
	"context"
	"strings"

	"relaybot/internal/transport"
)

// Message is a rendered payload: text plus send options.
type Message struct {
	Text string
	Opt  *transport.SendOptions
}

// Send delivers the message, threading it under replyTo when non-zero.
func (m Message) Send(ctx context.Context, s transport.Sender, to transport.ChatTarget, replyTo int) (transport.MessageRef, error) {
	opt := transport.SendOptions{}
	if m.Opt != nil {
		opt = *m.Opt
	}
	opt.ReplyTo = replyTo
	return s.SendText(ctx, to, m.Text, &opt)
}

// Builder assembles an HTML message line by line.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Line adds an escaped line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML adds a line that is already safe.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// KV adds a "• key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

// Bullets adds one "• item" line per non-empty item.
func (b *Builder) Bullets(items ...H) *Builder {
	for _, it := range items {
		if strings.TrimSpace(it.String()) == "" {
			continue
		}
		b.lines = append(b.lines, "• "+it.String())
	}
	return b
}

func (b *Builder) String() string {
	return strings.Trim(strings.Join(b.lines, "\n"), "\n")
}

// Build produces an HTML message with link previews disabled.
func (b *Builder) Build() Message {
	return Message{
		Text: b.String(),
		Opt:  &transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
	}
}
