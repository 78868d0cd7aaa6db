package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// Reply is what an operator sends back. With Source set the operator's
// message is copied verbatim; otherwise Text is sent.
type Reply struct {
	Text   string
	Source *transport.MessageRef
}

// Resolver routes operator replies back to the original sender.
type Resolver struct {
	corr   *Correlations
	auth   *Authorizer
	sender transport.Sender

	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
}

func NewResolver(corr *Correlations, auth *Authorizer, sender transport.Sender, log logx.Logger, bus eventbus.Bus, m *Metrics) *Resolver {
	return &Resolver{corr: corr, auth: auth, sender: sender, log: log, bus: bus, metrics: m}
}

// ResolveAndDeliver looks up relayID and delivers the reply to its sender.
//
//   - unknown relay id: (false, ErrNotFound), nothing changes
//   - delivery failure: (false, err), the correlation stays for a retry
//   - success: (true, nil), the correlation is removed unless retention is on
func (r *Resolver) ResolveAndDeliver(ctx context.Context, operatorID int64, relayID string, reply Reply) (bool, error) {
	if err := r.auth.Require(operatorID); err != nil {
		return false, err
	}
	if reply.Source == nil && strings.TrimSpace(reply.Text) == "" {
		return false, fmt.Errorf("%w: empty reply", ErrInvalidArgument)
	}

	entry, finish, err := r.corr.Claim(ctx, relayID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInFlight) {
			r.metrics.incReply("not_found")
		}
		return false, err
	}

	to := transport.ChatTarget{ChatID: entry.SenderID}
	if reply.Source != nil {
		_, err = r.sender.CopyMessage(ctx, to, *reply.Source)
	} else {
		_, err = r.sender.SendText(ctx, to, reply.Text, nil)
	}

	log := r.log.With(
		logx.Int64("operator_id", operatorID),
		logx.Int64("sender_id", entry.SenderID),
		logx.String("relay_id", relayID),
	)
	if err != nil {
		_ = finish(false)
		r.metrics.incReply("failed")
		log.Warn("reply delivery failed", logx.String("kind", transport.KindOf(err).String()), logx.Err(err))
		r.bus.Publish(eventbus.Event{Topic: eventbus.TopicReplyFailed, ActorID: operatorID, SubjectID: entry.SenderID, Detail: relayID})
		return false, err
	}

	if ferr := finish(true); ferr != nil {
		// Delivered; a stale entry only allows one more reply.
		log.Warn("correlation removal failed", logx.Err(ferr))
	}
	r.metrics.incReply("delivered")
	log.Debug("reply delivered")
	r.bus.Publish(eventbus.Event{Topic: eventbus.TopicReplyDelivered, ActorID: operatorID, SubjectID: entry.SenderID, Detail: relayID})
	return true, nil
}
