package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const (
	operatorID = 999
	logChatID  = -100777
)

type outbound struct {
	Kind string
	To   int64
	Text string
	Src  transport.MessageRef
	Ref  transport.MessageRef
}

type fakeAdapter struct {
	mu    sync.Mutex
	seq   int
	sent  []outbound
	menu  []transport.BotCommand
	out   chan<- transport.Update
	ready chan struct{}
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{ready: make(chan struct{})} }

func (f *fakeAdapter) record(o outbound) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	o.Ref = transport.MessageRef{ChatID: o.To, MessageID: 5000 + f.seq}
	f.sent = append(f.sent, o)
	return o.Ref, nil
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(outbound{Kind: "text", To: to.ChatID, Text: text})
}

func (f *fakeAdapter) ForwardMessage(_ context.Context, to transport.ChatTarget, src transport.MessageRef) (transport.MessageRef, error) {
	return f.record(outbound{Kind: "forward", To: to.ChatID, Src: src})
}

func (f *fakeAdapter) CopyMessage(_ context.Context, to transport.ChatTarget, src transport.MessageRef) (transport.MessageRef, error) {
	return f.record(outbound{Kind: "copy", To: to.ChatID, Src: src})
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	close(f.ready)
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string, bool) error { return nil }

func (f *fakeAdapter) Username() string { return "relay_test_bot" }

func (f *fakeAdapter) push(m *transport.Message) {
	<-f.ready
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- transport.Update{Message: m}
}

func (f *fakeAdapter) find(kind string, to int64) (outbound, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.sent {
		if o.Kind == kind && o.To == to {
			return o, true
		}
	}
	return outbound{}, false
}

func (f *fakeAdapter) menuSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.menu)
}

const baseConfig = `
telegram:
  token: "123:test"
  owner_user_ids: [999]
  group_log: -100777
logging:
  level: error
relay:
  prune_schedule: "@every 1h"
`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(body, "\n")), 0o600))
}

func startTestApp(t *testing.T) (*App, *fakeAdapter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseConfig)

	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	require.NoError(t, err)

	ad := newFakeAdapter()
	a, err := newApp(context.Background(), cfgm, cfg, nil, logx.Nop(), ad)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, StopAppStop)
	})
	return a, ad, path
}

func TestAppRelaysAndReplies(t *testing.T) {
	a, ad, _ := startTestApp(t)

	require.Eventually(t, func() bool { return ad.menuSize() > 0 }, time.Second, 10*time.Millisecond)

	ad.push(&transport.Message{ID: 7, ChatID: 42, FromID: 42, FromName: "Ann", Text: "hello", Private: true})
	var fwd outbound
	require.Eventually(t, func() bool {
		var ok bool
		fwd, ok = ad.find("forward", operatorID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 7, fwd.Src.MessageID)

	sender, err := a.engine.SenderOf(context.Background(), fwd.Ref.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(42), sender)

	ad.push(&transport.Message{
		ID: 8, ChatID: operatorID, FromID: operatorID, Text: "hi Ann", Private: true,
		ReplyTo: &fwd.Ref,
	})
	require.Eventually(t, func() bool {
		_, ok := ad.find("copy", 42)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppAnnouncesBans(t *testing.T) {
	a, ad, _ := startTestApp(t)

	changed, err := a.engine.Ban(context.Background(), operatorID, 42)
	require.NoError(t, err)
	require.True(t, changed)

	require.Eventually(t, func() bool {
		o, ok := ad.find("text", logChatID)
		return ok && strings.Contains(o.Text, "42")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppHotReload(t *testing.T) {
	a, _, path := startTestApp(t)
	assert.False(t, a.engine.Correlations.Retain())

	writeConfig(t, path, baseConfig+"  retain_correlations: true\n")
	// the file watcher may publish first; either way the change lands
	_, err := a.cfgm.Reload(context.Background())
	require.NoError(t, err)

	require.Eventually(t, a.engine.Correlations.Retain, 2*time.Second, 10*time.Millisecond)

	snap := a.sched.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, pruneJob, snap.Schedules[0].Name)
}

func TestMapRelayOptions(t *testing.T) {
	cfg, err := config.ParseBytes("config.yaml", []byte(`
telegram:
  token: x
  owner_user_ids: [1, 2]
relay:
  group_chat_id: -100
  group_thread_id: 3
  default_mode: group
  correlation_ttl: 0s
  reply_mode: text
  acknowledge: false
broadcast:
  workers: 4
  max_throttle_wait: 90s
messages:
  welcome: hey
`))
	require.NoError(t, err)

	o, err := mapRelayOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, o.Operators)
	assert.Equal(t, transport.ChatTarget{ChatID: -100, ThreadID: 3}, o.Group)
	assert.Equal(t, relay.ModeGroup, o.DefaultMode)
	assert.Zero(t, o.CorrelationTTL)
	assert.False(t, o.CopyReplies)
	assert.False(t, o.Acknowledge)
	assert.Equal(t, 4, o.Broadcast.Workers)
	assert.Equal(t, 90*time.Second, o.Broadcast.MaxThrottleWait)
	assert.Equal(t, "hey", o.Messages.Welcome)
}

func TestMapRelayOptionsDefaultModeOmitted(t *testing.T) {
	cfg, err := config.ParseBytes("config.yaml", []byte("telegram:\n  token: x\n  owner_user_ids: [1]\n"))
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))

	o, err := mapRelayOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, relay.ModePrivate, o.DefaultMode)

	cfg.Relay.DefaultMode = " Private "
	o, err = mapRelayOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, relay.ModePrivate, o.DefaultMode)
}

func TestMapOpsDefaults(t *testing.T) {
	oc, err := mapOps(&config.Config{Ops: config.OpsConfig{Enabled: true, Addr: " 127.0.0.1:9100 "}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", oc.Addr)
	assert.Equal(t, 10*time.Second, oc.ReadTimeout)
	assert.Equal(t, 60*time.Second, oc.WriteTimeout)

	_, err = mapOps(&config.Config{Ops: config.OpsConfig{ReadTimeout: "soon"}})
	assert.Error(t, err)
}

func TestDescribeEvent(t *testing.T) {
	msg, ok := describeEvent(eventbus.Event{Topic: eventbus.TopicBroadcastFinished, ActorID: 9, OK: 5, Fail: 1})
	require.True(t, ok)
	assert.Contains(t, msg.Text, "<b>Delivered</b>: 5")
	assert.Contains(t, msg.Text, "<b>Failed</b>: 1")
	assert.Equal(t, "HTML", msg.Opt.ParseMode)

	msg, ok = describeEvent(eventbus.Event{Topic: eventbus.TopicModeChanged, Detail: "<group>"})
	require.True(t, ok)
	assert.Contains(t, msg.Text, "&lt;group&gt;")

	msg, ok = describeEvent(eventbus.Event{Topic: eventbus.TopicUserBanned, ActorID: 1, SubjectID: 42})
	require.True(t, ok)
	assert.Contains(t, msg.Text, `tg://user?id=42`)

	_, ok = describeEvent(eventbus.Event{Topic: eventbus.TopicRelayed})
	assert.False(t, ok)
}
