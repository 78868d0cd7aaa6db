// Package router turns inbound Telegram updates into relay operations:
// operator commands, operator replies and user messages.
package router

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOperator
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden commands are routed but left out of the client menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Msg     *transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Rest is the raw text after the command word, untokenized.
	Rest  string
	ReqID string

	Logger logx.Logger
}

func (r *Request) logger(def logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return def
}

// Relay is the part of the relay engine the router drives.
type Relay interface {
	IsOperator(id int64) bool
	Messages() relay.Messages
	CurrentMode() relay.Mode

	HandleInbound(ctx context.Context, msg *transport.Message) error
	Greet(ctx context.Context, msg *transport.Message) error
	Reply(ctx context.Context, operatorID int64, relayID string, reply relay.Reply) (bool, error)
	SenderOf(ctx context.Context, relayID string) (int64, error)

	Ban(ctx context.Context, actorID, userID int64) (bool, error)
	Unban(ctx context.Context, actorID, userID int64) (bool, error)
	SetMode(ctx context.Context, actorID int64, m relay.Mode) error
	Broadcast(ctx context.Context, actorID int64, c relay.Content) (relay.Result, error)
	Stats(ctx context.Context) (relay.Stats, error)
}

var _ Relay = (*relay.Engine)(nil)

type Options struct {
	// Workers is the number of dispatch shards. Messages from one chat always
	// land on the same shard, so a user's messages are relayed in order.
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
	// BotUsername resolves the bot's own @name for "/cmd@bot" filtering.
	BotUsername func() string
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  []Command
	index map[string]int

	engine Relay
	sender transport.Sender
	opts   Options
	log    logx.Logger

	runMu sync.Mutex
	sup   *supervisor.Supervisor
	shard []chan func()

	broadcasting atomic.Bool
}

func NewCommandManager(log logx.Logger, engine Relay, sender transport.Sender, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	m := &CommandManager{
		engine: engine,
		sender: sender,
		opts:   opts,
		log:    log.With(logx.String("comp", "telegram.router")),
	}
	m.SetCommands(m.builtinCommands())
	return m
}

// SetCommands replaces the routing table and pushes the client menu when
// the sender supports it.
func (m *CommandManager) SetCommands(cmds []Command) {
	index := map[string]int{}
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		index[name] = len(kept)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := index[a]; a != "" && !taken {
				index[a] = len(kept)
			}
		}
		kept = append(kept, c)
	}
	m.mu.Lock()
	m.cmds, m.index = kept, index
	m.mu.Unlock()
}

// PublishMenu sends the command menu to clients. It is a no-op for senders
// that cannot publish one.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.sender.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, buildMenu(m.commands()))
}

func (m *CommandManager) commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.cmds...)
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[word]
	if !ok {
		return Command{}, false
	}
	return m.cmds[i], true
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	shards := make([]chan func(), m.opts.Workers)
	for i := range shards {
		shards[i] = make(chan func(), m.opts.QueueSize)
	}
	m.runMu.Lock()
	m.sup, m.shard = sup, shards
	m.runMu.Unlock()

	for i, jobs := range shards {
		idx := i
		sup.GoRestart("dispatch.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	m.log.Info("dispatcher started", logx.Int("workers", len(shards)), logx.Int("queue_cap", m.opts.QueueSize))

	defer func() {
		m.runMu.Lock()
		for _, ch := range shards {
			close(ch)
		}
		m.shard = nil
		m.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case up.Message != nil:
				m.route(sup.Context(), up.Message)
			case up.Callback != nil:
				m.routeCallback(sup.Context(), up.Callback)
			}
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in dispatch job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// enqueue places fn on the shard owning chatID. It never blocks the update
// loop; a full shard drops the job and reports false.
func (m *CommandManager) enqueue(chatID int64, fn func()) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if len(m.shard) == 0 {
		return false
	}
	i := chatID % int64(len(m.shard))
	if i < 0 {
		i = -i
	}
	select {
	case m.shard[i] <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) route(ctx context.Context, msg *transport.Message) {
	h, req := m.resolve(msg)
	if h == nil {
		return
	}
	if !m.enqueue(msg.ChatID, func() { _ = h(ctx, req) }) {
		m.log.Warn("dispatch queue full; update dropped", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", req.Command))
		if m.engine.IsOperator(msg.FromID) {
			_, _ = m.sender.SendText(ctx, req.Chat, "busy, try again", nil)
		}
	}
}

// resolve picks the handler for msg. The result is nil for messages the
// bot ignores.
func (m *CommandManager) resolve(msg *transport.Message) (HandlerFunc, *Request) {
	operator := m.engine.IsOperator(msg.FromID)
	req := &Request{
		Msg:    msg,
		Chat:   transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID: msg.FromID,
		ReqID:  newReqID(),
	}
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
	)

	botName := ""
	if m.opts.BotUsername != nil {
		botName = m.opts.BotUsername()
	}
	if word, rest, ok := parseCommand(msg.Text, botName); ok {
		if cmd, found := m.lookup(word); found && (operator || msg.Private) {
			req.Command, req.Rest, req.Args = cmd.Name, rest, tokenize(rest)
			h := cmd.Handle
			if cmd.Access == AccessOperator && !operator {
				h = m.unauthorized
			}
			return Chain(h, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(cmd.Timeout)), req
		}
		if operator {
			req.Command = word
			return Chain(m.unknownCommand, MWRequestLog(m.log)), req
		}
		if !msg.Private {
			return nil, nil
		}
		// A user's unknown "/word" is ordinary content and gets relayed.
	}

	switch {
	case operator && msg.ReplyTo != nil:
		req.Command = "reply"
		return Chain(m.handleReply, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(m.opts.CommandTimeout)), req
	case operator && msg.Private:
		req.Command = "hint"
		return m.operatorHint, req
	case msg.Private:
		req.Command = "relay"
		return Chain(m.handleInbound, MWPanicRecover(m.log), MWTimeout(m.opts.CommandTimeout)), req
	}
	return nil, nil
}

func (m *CommandManager) reply(ctx context.Context, req *Request, text string) {
	opt := &transport.SendOptions{ReplyTo: req.Msg.ID, DisablePreview: true}
	if _, err := m.sender.SendText(ctx, req.Chat, text, opt); err != nil {
		req.logger(m.log).Debug("reply not delivered", logx.Err(err))
	}
}

func (m *CommandManager) replyHTML(ctx context.Context, req *Request, text string) {
	opt := &transport.SendOptions{ReplyTo: req.Msg.ID, DisablePreview: true, ParseMode: "HTML"}
	if _, err := m.sender.SendText(ctx, req.Chat, text, opt); err != nil {
		req.logger(m.log).Debug("reply not delivered", logx.Err(err))
	}
}

func (m *CommandManager) unauthorized(ctx context.Context, req *Request) error {
	m.reply(ctx, req, m.engine.Messages().Unauthorized)
	return nil
}

func (m *CommandManager) unknownCommand(ctx context.Context, req *Request) error {
	m.reply(ctx, req, "unknown command, try /help")
	return nil
}

func (m *CommandManager) operatorHint(ctx context.Context, req *Request) error {
	m.reply(ctx, req, m.engine.Messages().OperatorHint)
	return nil
}

func (m *CommandManager) handleInbound(ctx context.Context, req *Request) error {
	err := m.engine.HandleInbound(ctx, req.Msg)
	if errors.Is(err, relay.ErrBanned) {
		return nil
	}
	return err
}

// handleReply answers the sender of the relayed copy the operator replied to.
func (m *CommandManager) handleReply(ctx context.Context, req *Request) error {
	src := req.Msg.Ref()
	ok, err := m.engine.Reply(ctx, req.FromID, req.Msg.ReplyTo.Key(), relay.Reply{Text: req.Msg.Text, Source: &src})
	msgs := m.engine.Messages()
	switch {
	case ok:
		m.reply(ctx, req, msgs.ReplySent)
		return nil
	case errors.Is(err, relay.ErrNotFound):
		// In a shared chat, replies to ordinary messages are conversation.
		if req.Msg.Private {
			m.reply(ctx, req, msgs.NoConversation)
		}
		return nil
	case errors.Is(err, relay.ErrInFlight):
		m.reply(ctx, req, msgs.ReplyInFlight)
		return nil
	case errors.Is(err, relay.ErrInvalidArgument):
		return nil
	default:
		m.reply(ctx, req, msgs.ReplyFailed)
		return err
	}
}
