package relay

import (
	"context"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// InboundHandler handles one message from an end user.
type InboundHandler func(ctx context.Context, msg *transport.Message) error

// InboundMiddleware wraps an InboundHandler.
type InboundMiddleware func(next InboundHandler) InboundHandler

// ChainInbound applies middleware so that mw[0] runs first.
func ChainInbound(h InboundHandler, mw ...InboundMiddleware) InboundHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Gate rejects banned senders before any other processing.
type Gate struct {
	registry *Registry
	auth     *Authorizer
	sender   transport.Sender
	messages func() Messages

	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
}

func NewGate(registry *Registry, auth *Authorizer, sender transport.Sender, messages func() Messages, log logx.Logger, bus eventbus.Bus, m *Metrics) *Gate {
	return &Gate{registry: registry, auth: auth, sender: sender, messages: messages, log: log, bus: bus, metrics: m}
}

// Middleware returns next guarded by the ban check. A banned sender gets the
// fixed notice and next is not called. Operators are never gated.
func (g *Gate) Middleware(next InboundHandler) InboundHandler {
	return func(ctx context.Context, msg *transport.Message) error {
		if msg == nil {
			return nil
		}
		if g.auth.IsOperator(msg.FromID) {
			return next(ctx, msg)
		}
		banned, err := g.registry.IsBanned(ctx, msg.FromID)
		if err != nil {
			return err
		}
		if !banned {
			return next(ctx, msg)
		}

		g.metrics.incRejected()
		g.bus.Publish(eventbus.Event{Topic: eventbus.TopicRejected, SubjectID: msg.FromID})
		to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
		if _, err := g.sender.SendText(ctx, to, g.messages().BannedNotice, nil); err != nil {
			g.log.Debug("ban notice not delivered", logx.Int64("user_id", msg.FromID), logx.Err(err))
		}
		return ErrBanned
	}
}
