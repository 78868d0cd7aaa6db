package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/relay"
	"relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

func (m *CommandManager) builtinCommands() []Command {
	return []Command{
		{
			Name:        "start",
			Description: "start talking to the team",
			Access:      AccessEveryone,
			Handle:      m.cmdStart,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "show available commands",
			Usage:       "/help [command]",
			Access:      AccessEveryone,
			Handle:      m.cmdHelp,
		},
		{
			Name:        "ban",
			Aliases:     []string{"block"},
			Description: "ban a user from the bot",
			Usage:       "/ban <user_id>  or reply to a forwarded message with /ban",
			Access:      AccessOperator,
			Handle:      m.cmdBan(true),
		},
		{
			Name:        "unban",
			Aliases:     []string{"unblock"},
			Description: "lift a ban",
			Usage:       "/unban <user_id>  or reply to a forwarded message with /unban",
			Access:      AccessOperator,
			Handle:      m.cmdBan(false),
		},
		{
			Name:        "mode",
			Description: "show or switch where messages are relayed",
			Usage:       "/mode [group|private]",
			Access:      AccessOperator,
			Handle:      m.cmdMode,
		},
		{
			Name:        "broadcast",
			Aliases:     []string{"bc"},
			Description: "send a message to every user",
			Usage:       "/broadcast <text>  or reply to a message with /broadcast",
			Access:      AccessOperator,
			Handle:      m.cmdBroadcast,
		},
		{
			Name:        "stats",
			Description: "user and conversation counts",
			Access:      AccessOperator,
			Handle:      m.cmdStats,
		},
	}
}

func (m *CommandManager) cmdStart(ctx context.Context, req *Request) error {
	if m.engine.IsOperator(req.FromID) {
		m.replyHTML(ctx, req, m.helpText(true, ""))
		return nil
	}
	err := m.engine.Greet(ctx, req.Msg)
	if errors.Is(err, relay.ErrBanned) {
		return nil
	}
	return err
}

func (m *CommandManager) cmdHelp(ctx context.Context, req *Request) error {
	topic := ""
	if len(req.Args) > 0 {
		topic = req.Args[0]
	}
	m.replyHTML(ctx, req, m.helpText(m.engine.IsOperator(req.FromID), topic))
	return nil
}

// targetUser reads the user id from the first argument or, failing that,
// from the relayed copy the command replies to.
func (m *CommandManager) targetUser(ctx context.Context, req *Request) (int64, error) {
	if len(req.Args) > 0 {
		return parseUserID(req.Args[0])
	}
	if req.Msg.ReplyTo != nil {
		return m.engine.SenderOf(ctx, req.Msg.ReplyTo.Key())
	}
	return 0, fmt.Errorf("%w: no user given", relay.ErrInvalidArgument)
}

func (m *CommandManager) cmdBan(ban bool) HandlerFunc {
	verb, fn := "unbanned", m.engine.Unban
	if ban {
		verb, fn = "banned", m.engine.Ban
	}
	return func(ctx context.Context, req *Request) error {
		userID, err := m.targetUser(ctx, req)
		if err != nil {
			if errors.Is(err, relay.ErrNotFound) {
				m.reply(ctx, req, m.engine.Messages().NoConversation)
				return nil
			}
			m.reply(ctx, req, "usage: "+m.usageOf(req.Command))
			return nil
		}
		changed, err := fn(ctx, req.FromID, userID)
		switch {
		case errors.Is(err, relay.ErrInvalidArgument):
			m.reply(ctx, req, "⚠️ "+err.Error())
			return nil
		case err != nil:
			m.reply(ctx, req, "❌ failed: "+err.Error())
			return err
		case !changed:
			m.reply(ctx, req, fmt.Sprintf("User %d is already %s.", userID, verb))
		default:
			m.reply(ctx, req, fmt.Sprintf("✅ User %d has been %s.", userID, verb))
		}
		return nil
	}
}

func (m *CommandManager) cmdMode(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		m.reply(ctx, req, fmt.Sprintf("Current mode: %s\nusage: %s", m.engine.CurrentMode(), m.usageOf(req.Command)))
		return nil
	}
	mode, err := relay.ParseMode(req.Args[0])
	if err != nil {
		m.reply(ctx, req, "usage: "+m.usageOf(req.Command))
		return nil
	}
	if err := m.engine.SetMode(ctx, req.FromID, mode); err != nil {
		m.reply(ctx, req, "❌ mode not changed: "+err.Error())
		return err
	}
	switch mode {
	case relay.ModeGroup:
		m.reply(ctx, req, "✅ Group mode on: messages are relayed to the operators' group.")
	default:
		m.reply(ctx, req, "✅ Private mode on: messages are relayed to each operator.")
	}
	return nil
}

// cmdBroadcast starts the fan-out in the background and reports once it is
// done. Only one broadcast runs at a time.
func (m *CommandManager) cmdBroadcast(ctx context.Context, req *Request) error {
	var content relay.Content
	switch {
	case req.Msg.ReplyTo != nil:
		src := *req.Msg.ReplyTo
		content.Source = &src
	case strings.TrimSpace(req.Rest) != "":
		content.Text = req.Rest
	default:
		m.reply(ctx, req, "usage: "+m.usageOf(req.Command))
		return nil
	}

	m.runMu.Lock()
	sup := m.sup
	m.runMu.Unlock()
	if sup == nil {
		return errors.New("dispatcher not running")
	}
	if !m.broadcasting.CompareAndSwap(false, true) {
		m.reply(ctx, req, "⏳ A broadcast is already running.")
		return nil
	}

	started := tgui.New().Title("📣", "Broadcast started")
	if content.Text != "" {
		started.HTML(tgui.I(tgui.TruncRunes(content.Text, 80)))
	}
	m.replyHTML(ctx, req, started.String())
	log := req.logger(m.log)
	sup.Go("broadcast."+req.ReqID, func(c context.Context) error {
		defer m.broadcasting.Store(false)
		res, err := m.engine.Broadcast(c, req.FromID, content)
		if err != nil {
			log.Warn("broadcast failed", logx.Err(err))
			m.reply(context.WithoutCancel(c), req, "❌ broadcast failed: "+err.Error())
			return nil
		}
		m.replyHTML(context.WithoutCancel(c), req, formatResult(res))
		return nil
	})
	return nil
}

func formatResult(r relay.Result) string {
	b := tgui.New().Title("📣", "Broadcast finished").
		KV("Attempted", strconv.Itoa(r.Attempted)).
		KV("Delivered", strconv.Itoa(r.Delivered)).
		KV("Failed", strconv.Itoa(r.Failed))
	if r.Unreachable > 0 || r.Throttled > 0 {
		b.KV("Unreachable", strconv.Itoa(r.Unreachable)).
			KV("Throttled", strconv.Itoa(r.Throttled))
	}
	return b.KV("Took", r.Duration.Round(time.Second).String()).String()
}

func (m *CommandManager) cmdStats(ctx context.Context, req *Request) error {
	st, err := m.engine.Stats(ctx)
	if err != nil {
		m.reply(ctx, req, "❌ stats unavailable: "+err.Error())
		return err
	}
	m.replyHTML(ctx, req, tgui.New().Title("📊", "Stats").
		KV("Users", strconv.Itoa(st.Users)).
		KV("Banned", strconv.Itoa(st.Banned)).
		KV("Open conversations", strconv.Itoa(st.Correlations)).
		KV("Mode", st.Mode.String()).
		String())
	return nil
}

func (m *CommandManager) usageOf(name string) string {
	if c, ok := m.lookup(name); ok && c.Usage != "" {
		return c.Usage
	}
	return "/" + name
}
