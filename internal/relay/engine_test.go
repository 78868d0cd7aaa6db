package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
)

const (
	operatorID = int64(999)
	groupChat  = int64(-100500)
)

type harness struct {
	engine *Engine
	store  *storage.Memory
	sender *fakeSender
	bus    eventbus.Bus
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{store: storage.NewMemory(), sender: newFakeSender(), bus: eventbus.New()}
	opts := Options{
		Store:       h.store,
		Sender:      h.sender,
		Operators:   []int64{operatorID},
		Group:       transport.ChatTarget{ChatID: groupChat},
		DefaultMode: ModePrivate,
		Acknowledge: true,
		CopyReplies: false,
		Bus:         h.bus,
		Metrics:     NewMetrics(nil),
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	h.engine = e
	return h
}

var nextMsgID = 1

func userMessage(userID int64, text string) *transport.Message {
	nextMsgID++
	return &transport.Message{ID: nextMsgID, ChatID: userID, FromID: userID, Text: text, Private: true}
}

// relayIDsFor returns the relay ids of copies forwarded for sender.
func (h *harness) relayIDsFor(t *testing.T, senderID int64) []string {
	t.Helper()
	var ids []string
	h.sender.mu.Lock()
	calls := append([]sent(nil), h.sender.calls...)
	h.sender.mu.Unlock()
	for _, s := range calls {
		if s.Kind == "forward" && s.Src.ChatID == senderID {
			ids = append(ids, s.Ref.Key())
		}
	}
	return ids
}

// Scenario: a private-mode message creates one correlation and is acknowledged.
func TestInboundPrivateModeCreatesCorrelation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(111, "Hello")))

	ids := h.relayIDsFor(t, 111)
	require.Len(t, ids, 1)
	c, err := h.engine.Correlations.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.EqualValues(t, 111, c.SenderID)
	assert.EqualValues(t, operatorID, c.DestinationID)

	toUser := h.sender.sentTo(111)
	require.Len(t, toUser, 1)
	assert.Equal(t, DefaultMessages().Acknowledged, toUser[0].Text)

	u, err := h.store.GetUser(ctx, 111)
	require.NoError(t, err)
	assert.False(t, u.Banned)
}

// Scenario: an operator reply reaches the sender and consumes the correlation.
func TestReplyDeliversAndRemoves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(111, "Hello")))
	relayID := h.relayIDsFor(t, 111)[0]

	ok, err := h.engine.Reply(ctx, operatorID, relayID, Reply{Text: "Hi there"})
	require.NoError(t, err)
	assert.True(t, ok)

	toUser := h.sender.sentTo(111)
	require.Len(t, toUser, 2)
	assert.Equal(t, "Hi there", toUser[1].Text)

	_, err = h.engine.Correlations.Get(ctx, relayID)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = h.engine.Reply(ctx, operatorID, relayID, Reply{Text: "again"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotFound)
}

// Scenario: a ban takes effect on the very next message.
func TestBanTakesEffectImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(111, "Hello")))

	changed, err := h.engine.Ban(ctx, operatorID, 111)
	require.NoError(t, err)
	assert.True(t, changed)

	before, err := h.engine.Correlations.Count(ctx)
	require.NoError(t, err)
	forwards := h.sender.count("forward")
	sentBefore := len(h.sender.sentTo(111))

	err = h.engine.HandleInbound(ctx, userMessage(111, "Still there?"))
	assert.ErrorIs(t, err, ErrBanned)

	after, err := h.engine.Correlations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, forwards, h.sender.count("forward"))

	toUser := h.sender.sentTo(111)
	require.Len(t, toUser, sentBefore+1)
	assert.Equal(t, DefaultMessages().BannedNotice, toUser[len(toUser)-1].Text)
}

// Scenario: broadcast to three users with one unreachable.
func TestBroadcastCountsUnreachable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		_, err := h.engine.Registry.RegisterIfAbsent(ctx, Profile{ID: id})
		require.NoError(t, err)
	}
	h.sender.failNext(2, transport.Unreachable(errors.New("bot was blocked by the user")))

	res, err := h.engine.Broadcast(ctx, operatorID, Content{Text: "Maintenance at 5pm"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Unreachable)
}

// Scenario: after switching to group mode one copy goes to the group.
func TestGroupModeSingleCopy(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Operators = []int64{operatorID, 998} })
	ctx := context.Background()

	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(333, "private first")))
	assert.Len(t, h.relayIDsFor(t, 333), 2)

	require.NoError(t, h.engine.SetMode(ctx, operatorID, ModeGroup))
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(222, "hello group")))

	ids := h.relayIDsFor(t, 222)
	require.Len(t, ids, 1)
	c, err := h.engine.Correlations.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.EqualValues(t, groupChat, c.DestinationID)
	assert.Equal(t, "group", c.Mode)
}

func TestPrivateModeEachOperatorResolvesOwnCopy(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Operators = []int64{operatorID, 998} })
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(444, "hi")))

	ids := h.relayIDsFor(t, 444)
	require.Len(t, ids, 2)
	for _, id := range ids {
		sender, err := h.engine.SenderOf(ctx, id)
		require.NoError(t, err)
		assert.EqualValues(t, 444, sender)
	}

	ok, err := h.engine.Reply(ctx, 998, ids[0], Reply{Text: "from 998"})
	require.NoError(t, err)
	assert.True(t, ok)
	// The other operator's copy is still live.
	_, err = h.engine.Correlations.Get(ctx, ids[1])
	assert.NoError(t, err)
}

func TestRelayContinuesWhenOneOperatorFails(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Operators = []int64{operatorID, 998} })
	ctx := context.Background()
	h.sender.failNext(998, transport.Unreachable(errors.New("chat not found")))

	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(555, "hi")))
	ids := h.relayIDsFor(t, 555)
	require.Len(t, ids, 1)
	c, err := h.engine.Correlations.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.EqualValues(t, operatorID, c.DestinationID)
}

func TestRelayFailsWhenNoDestinationReached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sender.failNext(operatorID, errors.New("network down"))

	err := h.engine.HandleInbound(ctx, userMessage(556, "hi"))
	assert.ErrorIs(t, err, ErrUndelivered)
	toUser := h.sender.sentTo(556)
	require.Len(t, toUser, 1)
	assert.Equal(t, DefaultMessages().RelayFailed, toUser[0].Text)
}

func TestModeSwitchKeepsExistingCorrelations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(600, "private")))
	privateID := h.relayIDsFor(t, 600)[0]

	require.NoError(t, h.engine.SetMode(ctx, operatorID, ModeGroup))
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(601, "group")))
	groupID := h.relayIDsFor(t, 601)[0]

	ok, err := h.engine.Reply(ctx, operatorID, privateID, Reply{Text: "a"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.engine.SetMode(ctx, operatorID, ModePrivate))
	ok, err = h.engine.Reply(ctx, operatorID, groupID, Reply{Text: "b"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplyFailureKeepsEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(700, "hi")))
	relayID := h.relayIDsFor(t, 700)[0]

	h.sender.failNext(700, transport.Unreachable(errors.New("blocked")))
	ok, err := h.engine.Reply(ctx, operatorID, relayID, Reply{Text: "answer"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, transport.ErrUnreachable)

	_, err = h.engine.Correlations.Get(ctx, relayID)
	require.NoError(t, err)

	ok, err = h.engine.Reply(ctx, operatorID, relayID, Reply{Text: "answer"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetainPolicyAllowsMultipleReplies(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RetainCorrelations = true })
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(800, "hi")))
	relayID := h.relayIDsFor(t, 800)[0]

	for i := 0; i < 3; i++ {
		ok, err := h.engine.Reply(ctx, operatorID, relayID, Reply{Text: "turn"})
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestReplyCopiesSourceWhenEnabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.CopyReplies = true })
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(801, "hi")))
	relayID := h.relayIDsFor(t, 801)[0]

	src := transport.MessageRef{ChatID: operatorID, MessageID: 77}
	ok, err := h.engine.Reply(ctx, operatorID, relayID, Reply{Text: "hello", Source: &src})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.sender.count("copy"))
}

func TestReplyUnknownRelayID(t *testing.T) {
	h := newHarness(t)
	ok, err := h.engine.Reply(context.Background(), operatorID, "1:1", Reply{Text: "x"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdminOperationsRequireOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Ban(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, h.engine.SetMode(ctx, 1, ModeGroup), ErrUnauthorized)
	_, err = h.engine.Broadcast(ctx, 1, Content{Text: "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.engine.Reply(ctx, 1, "1:1", Reply{Text: "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, ModePrivate, h.engine.Mode.Current())
}

func TestBanValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Ban(ctx, operatorID, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = h.engine.Ban(ctx, operatorID, operatorID)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBanBeforeFirstContactAndUnban(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	events, unsub := h.bus.Subscribe(8, eventbus.TopicUserBanned, eventbus.TopicUserUnbanned)
	defer unsub()

	changed, err := h.engine.Ban(ctx, operatorID, 4242)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = h.engine.Ban(ctx, operatorID, 4242)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.ErrorIs(t, h.engine.HandleInbound(ctx, userMessage(4242, "first")), ErrBanned)

	changed, err = h.engine.Unban(ctx, operatorID, 4242)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(4242, "back")))

	assert.Equal(t, eventbus.TopicUserBanned, (<-events).Topic)
	assert.Equal(t, eventbus.TopicUserUnbanned, (<-events).Topic)

	notices := h.sender.sentTo(4242)
	assert.Equal(t, DefaultMessages().BannedTarget, notices[0].Text)

	audit := h.store.Audit()
	require.NotEmpty(t, audit)
	assert.Equal(t, "ban", audit[0].Action)
	assert.Equal(t, "4242", audit[0].Target)
}

func TestRegisterNeverClearsBan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.Registry.SetBanned(ctx, 50, true)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		created, err := h.engine.Registry.RegisterIfAbsent(ctx, Profile{ID: 50, Username: "u"})
		require.NoError(t, err)
		assert.False(t, created)
	}
	banned, err := h.engine.Registry.IsBanned(ctx, 50)
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestOperatorsBypassGate(t *testing.T) {
	h := newHarness(t)
	called := false
	next := func(ctx context.Context, msg *transport.Message) error {
		called = true
		return nil
	}
	h2 := h.engine.Gate.Middleware(next)
	require.NoError(t, h2(context.Background(), userMessage(operatorID, "x")))
	assert.True(t, called)
}

func TestModePersistsAcrossEngines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.SetMode(ctx, operatorID, ModeGroup))

	e2, err := New(Options{Store: h.store, Sender: h.sender, Operators: []int64{operatorID}})
	require.NoError(t, err)
	require.NoError(t, e2.Start(ctx))
	assert.Equal(t, ModeGroup, e2.Mode.Current())
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(901, "a")))
	require.NoError(t, h.engine.HandleInbound(ctx, userMessage(902, "b")))
	_, err := h.engine.Ban(ctx, operatorID, 902)
	require.NoError(t, err)

	st, err := h.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Users: 2, Banned: 1, Correlations: 2, Mode: ModePrivate}, st)
}

func TestGreetRegistersAndRespectsBan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.Greet(ctx, userMessage(1200, "/start")))
	toUser := h.sender.sentTo(1200)
	require.Len(t, toUser, 1)
	assert.Equal(t, DefaultMessages().Welcome, toUser[0].Text)
	_, err := h.store.GetUser(ctx, 1200)
	require.NoError(t, err)

	_, err = h.engine.Ban(ctx, operatorID, 1200)
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.Greet(ctx, userMessage(1200, "/start")), ErrBanned)
}
