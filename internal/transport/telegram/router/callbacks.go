package router

import (
	"context"
	"errors"
	"strconv"

	"relaybot/internal/relay"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

func (m *CommandManager) routeCallback(ctx context.Context, cb *transport.Callback) {
	if !m.enqueue(cb.ChatID, func() { m.handleCallback(ctx, cb) }) {
		m.log.Warn("dispatch queue full; callback dropped", logx.Int64("chat_id", cb.ChatID))
		m.answer(ctx, cb, "busy, try again", false)
	}
}

// handleCallback runs an inline button action. Every press is answered so
// the client stops its spinner.
func (m *CommandManager) handleCallback(ctx context.Context, cb *transport.Callback) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.CommandTimeout)
	defer cancel()
	log := m.log.With(
		logx.String("rid", newReqID()),
		logx.Int64("chat_id", cb.ChatID),
		logx.Int64("from_id", cb.FromID),
		logx.String("data", cb.Data),
	)

	action, userID, ok := relay.ParseAction(cb.Data)
	if !ok {
		m.answer(ctx, cb, "", false)
		return
	}
	log.Debug("callback", logx.String("action", action))

	changed, err := m.engine.Ban(ctx, cb.FromID, userID)
	switch {
	case errors.Is(err, relay.ErrUnauthorized):
		m.answer(ctx, cb, m.engine.Messages().Unauthorized, true)
	case errors.Is(err, relay.ErrInvalidArgument):
		m.answer(ctx, cb, "Operators cannot be banned.", true)
	case err != nil:
		log.Warn("ban from button failed", logx.Err(err))
		m.answer(ctx, cb, "❌ Ban failed, try again.", true)
	case !changed:
		m.answer(ctx, cb, "ℹ️ User is already banned.", false)
	default:
		m.answer(ctx, cb, "✅ Banned", false)
		to := transport.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		text := "✅ User " + strconv.FormatInt(userID, 10) + " has been banned."
		if _, err := m.sender.SendText(ctx, to, text, &transport.SendOptions{ReplyTo: cb.MessageID}); err != nil {
			log.Debug("ban confirmation not delivered", logx.Err(err))
		}
	}
}

func (m *CommandManager) answer(ctx context.Context, cb *transport.Callback, text string, alert bool) {
	a, ok := m.sender.(transport.CallbackAnswerer)
	if !ok || cb.ID == "" {
		return
	}
	if err := a.AnswerCallback(ctx, cb.ID, text, alert); err != nil {
		m.log.Debug("callback answer failed", logx.Err(err))
	}
}
