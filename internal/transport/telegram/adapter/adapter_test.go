package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"relaybot/internal/transport"
)

func TestSplitTextShort(t *testing.T) {
	assert.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
}

func TestSplitTextPrefersNewline(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	require.Len(t, got, 2)
	assert.Equal(t, strings.Repeat("a", 6), got[0])
	assert.Equal(t, strings.Repeat("b", 6), got[1])
}

func TestSplitTextHardCut(t *testing.T) {
	got := splitText(strings.Repeat("x", 25), 10, "")
	require.Len(t, got, 3)
	for _, c := range got {
		assert.LessOrEqual(t, len([]rune(c)), 10)
	}
	assert.Equal(t, strings.Repeat("x", 25), strings.Join(got, ""))
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	s := "abcdefg<b>bold</b>"
	got := splitText(s, 9, "HTML")
	require.NotEmpty(t, got)
	assert.Equal(t, "abcdefg", got[0])
	assert.True(t, strings.HasPrefix(got[1], "<b>"))
}

func TestSplitTextRunes(t *testing.T) {
	got := splitText(strings.Repeat("é", 12), 5, "")
	require.Len(t, got, 3)
	assert.Equal(t, "ééééé", got[0])
}

func TestMenuDescription(t *testing.T) {
	assert.Equal(t, "ban", menuDescription(transport.BotCommand{Command: "ban"}))
	assert.Equal(t, "Ban a user", menuDescription(transport.BotCommand{Command: "ban", Description: " Ban a user "}))

	long := strings.Repeat("ж", 300)
	d := menuDescription(transport.BotCommand{Command: "x", Description: long})
	assert.True(t, utf8.ValidString(d))
	assert.Equal(t, 256, utf8.RuneCountInString(d))
	assert.True(t, strings.HasSuffix(d, "…"))

	exact := strings.Repeat("ж", 256)
	assert.Equal(t, exact, menuDescription(transport.BotCommand{Command: "x", Description: exact}))
}

func TestInlineMarkup(t *testing.T) {
	assert.Nil(t, inlineMarkup(nil))
	assert.Nil(t, inlineMarkup([][]transport.Button{{{Text: "no data"}}}))

	rm := inlineMarkup([][]transport.Button{
		{{Text: "🚫 Ban User", Data: "ban:7"}},
		{},
	})
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 1)
	assert.Equal(t, tele.InlineButton{Text: "🚫 Ban User", Data: "ban:7"}, rm.InlineKeyboard[0][0])
}

func TestConvertCallback(t *testing.T) {
	assert.Nil(t, convertCallback(nil))
	// inline-mode presses have no message
	assert.Nil(t, convertCallback(&tele.Callback{ID: "1", Sender: &tele.User{ID: 5}}))

	cb := convertCallback(&tele.Callback{
		ID:     "77",
		Sender: &tele.User{ID: 5},
		Data:   "ban:9",
		Message: &tele.Message{
			ID:       300,
			ThreadID: 4,
			Chat:     &tele.Chat{ID: -100},
		},
	})
	require.NotNil(t, cb)
	assert.Equal(t, transport.Callback{ID: "77", FromID: 5, ChatID: -100, ThreadID: 4, MessageID: 300, Data: "ban:9"}, *cb)
}

func TestClassifyError(t *testing.T) {
	assert.NoError(t, classifyError(nil))

	err := classifyError(tele.ErrBlockedByUser)
	assert.ErrorIs(t, err, transport.ErrUnreachable)
	assert.ErrorIs(t, err, tele.ErrBlockedByUser)

	assert.ErrorIs(t, classifyError(tele.ErrUserIsDeactivated), transport.ErrUnreachable)
	assert.ErrorIs(t, classifyError(errors.New("telegram: Bad Request: chat not found (400)")), transport.ErrUnreachable)

	flood := classifyError(tele.FloodError{RetryAfter: 7})
	assert.ErrorIs(t, flood, transport.ErrThrottled)
	d, ok := transport.RetryAfter(flood)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	other := errors.New("boom")
	assert.Equal(t, transport.KindOther, transport.KindOf(classifyError(other)))
}
