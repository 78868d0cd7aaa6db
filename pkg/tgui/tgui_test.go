package tgui

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/transport"
)

func TestBuilderEscapes(t *testing.T) {
	out := New().
		Title("📊", "Stats <live>").
		KV("Users", "3 & counting").
		Bullets(Cmd("ban"), "", Esc("a<b")).
		Blank().
		Line("x > y").
		String()

	assert.Equal(t, "📊 <b>Stats &lt;live&gt;</b>\n"+
		"• <b>Users</b>: 3 &amp; counting\n"+
		"• <code>/ban</code>\n"+
		"• a&lt;b\n"+
		"\n"+
		"x &gt; y", out)
}

func TestMentionAndJoin(t *testing.T) {
	assert.Equal(t, H(`<a href="tg://user?id=42">42</a>`), Mention("", 42))
	assert.Equal(t, H(`<a href="tg://user?id=7">A&amp;B</a>`), Mention("A&B", 7))
	assert.Equal(t, H("<code>1</code>, <code>2</code>"), JoinH(", ", UserID(1), "", UserID(2)))
	assert.Equal(t, H(""), JoinH(", "))
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "héllo", TruncRunes("héllo", 5))
	assert.Equal(t, "hé…", TruncRunes("héllo", 2))
	assert.Equal(t, "", TruncRunes("abc", 0))
}

type captureSender struct {
	text string
	opt  transport.SendOptions
}

func (c *captureSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.text, c.opt = text, *opt
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (c *captureSender) ForwardMessage(context.Context, transport.ChatTarget, transport.MessageRef) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

func (c *captureSender) CopyMessage(context.Context, transport.ChatTarget, transport.MessageRef) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

func TestMessageSend(t *testing.T) {
	var s captureSender
	msg := New().Title("", "Hi").Build()
	_, err := msg.Send(context.Background(), &s, transport.ChatTarget{ChatID: 5}, 9)
	require.NoError(t, err)
	assert.Equal(t, "<b>Hi</b>", s.text)
	assert.Equal(t, "HTML", s.opt.ParseMode)
	assert.True(t, s.opt.DisablePreview)
	assert.Equal(t, 9, s.opt.ReplyTo)
}
