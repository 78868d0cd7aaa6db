package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// Router forwards an inbound message to the destinations selected by the
// current mode and records one correlation per forwarded copy.
type Router struct {
	mode   *ModeState
	corr   *Correlations
	auth   *Authorizer
	sender transport.Sender
	group  atomic.Pointer[transport.ChatTarget]
	banBtn atomic.Bool

	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
}

func NewRouter(mode *ModeState, corr *Correlations, auth *Authorizer, sender transport.Sender, log logx.Logger, bus eventbus.Bus, m *Metrics) *Router {
	r := &Router{mode: mode, corr: corr, auth: auth, sender: sender, log: log, bus: bus, metrics: m}
	r.SetGroup(transport.ChatTarget{})
	return r
}

// SetGroup sets the single destination used in group mode.
func (r *Router) SetGroup(to transport.ChatTarget) {
	r.group.Store(&to)
}

// SetBanButton toggles the sender card that follows each group copy.
func (r *Router) SetBanButton(on bool) { r.banBtn.Store(on) }

func (r *Router) destinations(mode Mode) ([]transport.ChatTarget, error) {
	if mode == ModeGroup {
		g := *r.group.Load()
		if g.ChatID == 0 {
			return nil, fmt.Errorf("%w: group mode without relay.group_chat_id", ErrInvalidArgument)
		}
		return []transport.ChatTarget{g}, nil
	}
	ops := r.auth.Operators()
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: no operators configured", ErrInvalidArgument)
	}
	out := make([]transport.ChatTarget, 0, len(ops))
	for _, id := range ops {
		out = append(out, transport.ChatTarget{ChatID: id})
	}
	return out, nil
}

// Relay forwards src once per destination. Each destination is independent:
// a failed forward or correlation write is logged and the loop continues.
// The error is non-nil only when no copy was recorded at all.
func (r *Router) Relay(ctx context.Context, senderID int64, src transport.MessageRef) ([]string, error) {
	mode := r.mode.Current()
	dests, err := r.destinations(mode)
	if err != nil {
		return nil, err
	}

	relayIDs := make([]string, 0, len(dests))
	var errs []error
	for _, to := range dests {
		ref, err := r.sender.ForwardMessage(ctx, to, src)
		if err != nil {
			r.metrics.incRelayFailure()
			r.log.Warn("forward failed",
				logx.Int64("sender_id", senderID),
				logx.Int64("dest_id", to.ChatID),
				logx.String("kind", transport.KindOf(err).String()),
				logx.Err(err),
			)
			errs = append(errs, err)
			continue
		}

		entry := storage.Correlation{
			RelayID:       ref.Key(),
			SenderID:      senderID,
			DestinationID: to.ChatID,
			Mode:          mode.String(),
		}
		if err := r.corr.Put(ctx, entry); err != nil {
			r.log.Warn("correlation write failed",
				logx.String("relay_id", entry.RelayID),
				logx.Int64("sender_id", senderID),
				logx.Err(err),
			)
			errs = append(errs, err)
			continue
		}
		relayIDs = append(relayIDs, entry.RelayID)
		r.metrics.incRelayed(mode)

		if mode == ModeGroup && r.banBtn.Load() {
			text, opt := senderCard(senderID, ref)
			if _, err := r.sender.SendText(ctx, to, text, opt); err != nil {
				r.log.Debug("sender card not posted", logx.Int64("sender_id", senderID), logx.Err(err))
			}
		}
	}

	if len(relayIDs) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrUndelivered, errors.Join(errs...))
	}
	r.bus.Publish(eventbus.Event{
		Topic:     eventbus.TopicRelayed,
		SubjectID: senderID,
		Detail:    mode.String(),
		OK:        len(relayIDs),
		Fail:      len(errs),
	})
	return relayIDs, nil
}
