package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/transport"
)

func TestParseAction(t *testing.T) {
	b := BanButton(77)
	assert.Equal(t, "🚫 Ban User", b.Text)
	action, id, ok := ParseAction(b.Data)
	require.True(t, ok)
	assert.Equal(t, ActionBan, action)
	assert.EqualValues(t, 77, id)

	for _, data := range []string{"", "ban", "ban:", "ban:x", "ban:0", "ban:-5", "unban:5", "ban:5:6"} {
		_, _, ok := ParseAction(data)
		assert.False(t, ok, data)
	}
}

func TestSenderCard(t *testing.T) {
	text, opt := senderCard(7, transport.MessageRef{ChatID: groupChat, MessageID: 31})
	assert.Contains(t, text, `tg://user?id=7`)
	assert.Equal(t, "HTML", opt.ParseMode)
	assert.Equal(t, 31, opt.ReplyTo)
	assert.Equal(t, [][]transport.Button{{BanButton(7)}}, opt.Buttons)
}

func TestGroupCopyFollowedBySenderCard(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BanButton = true })
	ctx := context.Background()
	require.NoError(t, h.engine.SetMode(ctx, operatorID, ModeGroup))

	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(7, "hi")))
	got := h.sender.sentTo(groupChat)
	require.Len(t, got, 2)
	assert.Equal(t, "forward", got[0].Kind)
	assert.Equal(t, "text", got[1].Kind)
	assert.Contains(t, got[1].Text, `tg://user?id=7`)

	// only the copy resolves back to the sender
	sender, err := h.engine.SenderOf(ctx, got[0].Ref.Key())
	require.NoError(t, err)
	assert.EqualValues(t, 7, sender)
	_, err = h.engine.SenderOf(ctx, got[1].Ref.Key())
	assert.ErrorIs(t, err, ErrNotFound)

	h.engine.Apply(Settings{Operators: []int64{operatorID}, Group: transport.ChatTarget{ChatID: groupChat}})
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(7, "again")))
	got = h.sender.sentTo(groupChat)
	require.Len(t, got, 3)
	assert.Equal(t, "forward", got[2].Kind)
}

func TestPrivateCopyHasNoSenderCard(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.BanButton = true })
	require.NoError(t, h.engine.HandleInbound(context.Background(), userMessage(7, "hi")))
	for _, s := range h.sender.sentTo(operatorID) {
		assert.Equal(t, "forward", s.Kind)
	}
}
