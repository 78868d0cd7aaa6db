package app

import (
	"context"
	"strconv"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

// describeEvent renders admin actions for the log group. Other topics are
// only logged.
func describeEvent(e eventbus.Event) (tgui.Message, bool) {
	by := " by " + tgui.Mention("", e.ActorID)
	b := tgui.New()
	switch e.Topic {
	case eventbus.TopicUserBanned:
		b.HTML("🚫 User " + tgui.Mention("", e.SubjectID) + " banned" + by)
	case eventbus.TopicUserUnbanned:
		b.HTML("✅ User " + tgui.Mention("", e.SubjectID) + " unbanned" + by)
	case eventbus.TopicModeChanged:
		b.HTML("🔀 Relay mode set to " + tgui.B(e.Detail) + by)
	case eventbus.TopicBroadcastFinished:
		b.HTML("📣 Broadcast" + by + " finished").
			KV("Delivered", strconv.Itoa(e.OK)).
			KV("Failed", strconv.Itoa(e.Fail))
	default:
		return tgui.Message{}, false
	}
	return b.Build(), true
}

// eventLoop logs every bus event and posts admin actions to the log group.
func (a *App) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event",
				logx.String("topic", string(e.Topic)),
				logx.Int64("actor", e.ActorID),
				logx.Int64("subject", e.SubjectID),
			)
			a.announce(ctx, e)
		}
	}
}

func (a *App) announce(ctx context.Context, e eventbus.Event) {
	msg, ok := describeEvent(e)
	if !ok {
		return
	}
	cfg := a.cfgm.Get()
	if cfg == nil || cfg.Telegram.GroupLog == 0 {
		return
	}
	to := transport.ChatTarget{ChatID: cfg.Telegram.GroupLog, ThreadID: cfg.Logging.Telegram.ThreadID}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := msg.Send(sctx, a.adapter, to, 0); err != nil {
		a.log.Warn("event announce failed", logx.String("topic", string(e.Topic)), logx.Err(err))
	}
}
