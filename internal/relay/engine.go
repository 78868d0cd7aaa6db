package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"relaybot/internal/eventbus"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type Options struct {
	Store  storage.Store
	Sender transport.Sender

	Operators          []int64
	Group              transport.ChatTarget
	DefaultMode        Mode
	RetainCorrelations bool
	CorrelationTTL     time.Duration
	// Acknowledge sends Messages.Acknowledged after a successful relay.
	Acknowledge bool
	// CopyReplies copies the operator's reply message; otherwise its text is sent.
	CopyReplies bool
	// BanButton follows each group copy with a sender card carrying a ban button.
	BanButton bool

	Broadcast BroadcastOptions
	Messages  Messages

	Log     logx.Logger
	Bus     eventbus.Bus
	Metrics *Metrics
}

// Settings is the hot-reloadable subset of Options.
type Settings struct {
	Operators          []int64
	Group              transport.ChatTarget
	RetainCorrelations bool
	CorrelationTTL     time.Duration
	Acknowledge        bool
	CopyReplies        bool
	BanButton          bool
	Broadcast          BroadcastOptions
	Messages           Messages
}

// Engine wires the registry, ban gate, mode, correlations, router, resolver
// and broadcaster, and exposes the administrative operations.
type Engine struct {
	Auth         *Authorizer
	Registry     *Registry
	Mode         *ModeState
	Correlations *Correlations
	Router       *Router
	Resolver     *Resolver
	Broadcaster  *Broadcaster
	Gate         *Gate

	store   storage.Store
	sender  transport.Sender
	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics

	messages    atomic.Pointer[Messages]
	ttl         atomic.Int64
	acknowledge atomic.Bool
	copyReplies atomic.Bool

	inbound InboundHandler
	greet   InboundHandler
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("relay: store is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("relay: sender is required")
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "relay"))
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}

	e := &Engine{store: opts.Store, sender: opts.Sender, log: log, bus: bus, metrics: opts.Metrics}
	e.Auth = NewAuthorizer(opts.Operators)
	e.Registry = NewRegistry(opts.Store)
	e.Mode = NewModeState(opts.DefaultMode, opts.Store)
	e.Correlations = NewCorrelations(opts.Store, opts.RetainCorrelations)
	e.Router = NewRouter(e.Mode, e.Correlations, e.Auth, opts.Sender, log, bus, opts.Metrics)
	e.Resolver = NewResolver(e.Correlations, e.Auth, opts.Sender, log, bus, opts.Metrics)
	e.Broadcaster = NewBroadcaster(e.Registry, opts.Sender, opts.Broadcast, log.With(logx.String("sub", "broadcast")), bus, opts.Metrics)
	e.Gate = NewGate(e.Registry, e.Auth, opts.Sender, e.Messages, log, bus, opts.Metrics)

	e.Apply(Settings{
		Operators:          opts.Operators,
		Group:              opts.Group,
		RetainCorrelations: opts.RetainCorrelations,
		CorrelationTTL:     opts.CorrelationTTL,
		Acknowledge:        opts.Acknowledge,
		CopyReplies:        opts.CopyReplies,
		BanButton:          opts.BanButton,
		Broadcast:          opts.Broadcast,
		Messages:           opts.Messages,
	})
	e.inbound = ChainInbound(e.handleInbound, e.Gate.Middleware)
	e.greet = ChainInbound(e.handleGreet, e.Gate.Middleware)
	return e, nil
}

// Start restores persisted state. A store failure here is fatal to the caller.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Mode.Load(ctx); err != nil {
		return err
	}
	e.log.Info("relay engine ready",
		logx.String("mode", e.Mode.Current().String()),
		logx.Int("operators", len(e.Auth.Operators())),
		logx.Bool("retain", e.Correlations.Retain()),
	)
	return nil
}

// Apply swaps the hot-reloadable settings. Existing correlations are untouched.
func (e *Engine) Apply(s Settings) {
	e.Auth.Set(s.Operators)
	e.Router.SetGroup(s.Group)
	e.Router.SetBanButton(s.BanButton)
	e.Correlations.SetRetain(s.RetainCorrelations)
	e.ttl.Store(int64(s.CorrelationTTL))
	e.acknowledge.Store(s.Acknowledge)
	e.copyReplies.Store(s.CopyReplies)
	e.Broadcaster.SetOptions(s.Broadcast)
	msgs := s.Messages.WithDefaults()
	e.messages.Store(&msgs)
}

func (e *Engine) Messages() Messages { return *e.messages.Load() }

func (e *Engine) IsOperator(id int64) bool { return e.Auth.IsOperator(id) }

func (e *Engine) CurrentMode() Mode { return e.Mode.Current() }

// Greet answers a user's /start: ban gate, registration, welcome text.
func (e *Engine) Greet(ctx context.Context, msg *transport.Message) error {
	return e.greet(ctx, msg)
}

func (e *Engine) handleGreet(ctx context.Context, msg *transport.Message) error {
	created, err := e.Registry.RegisterIfAbsent(ctx, Profile{ID: msg.FromID, Username: msg.FromUsername, FirstName: msg.FromName})
	if err != nil {
		return err
	}
	if created {
		e.log.Info("new user", logx.Int64("user_id", msg.FromID), logx.String("username", msg.FromUsername))
	}
	_, err = e.sender.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, e.Messages().Welcome, nil)
	return err
}

// HandleInbound runs a user's message through the ban gate, registration,
// relay and acknowledgment. It returns ErrBanned for rejected senders.
func (e *Engine) HandleInbound(ctx context.Context, msg *transport.Message) error {
	return e.inbound(ctx, msg)
}

func (e *Engine) handleInbound(ctx context.Context, msg *transport.Message) error {
	if _, err := e.Registry.RegisterIfAbsent(ctx, Profile{ID: msg.FromID, Username: msg.FromUsername, FirstName: msg.FromName}); err != nil {
		return err
	}

	to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	ids, err := e.Router.Relay(ctx, msg.FromID, msg.Ref())
	if err != nil {
		e.log.Warn("relay failed", logx.Int64("sender_id", msg.FromID), logx.Err(err))
		_, _ = e.sender.SendText(ctx, to, e.Messages().RelayFailed, &transport.SendOptions{ReplyTo: msg.ID})
		return err
	}
	e.log.Debug("relayed", logx.Int64("sender_id", msg.FromID), logx.Int("copies", len(ids)))

	if e.acknowledge.Load() {
		if _, err := e.sender.SendText(ctx, to, e.Messages().Acknowledged, &transport.SendOptions{ReplyTo: msg.ID}); err != nil {
			e.log.Debug("acknowledgment not delivered", logx.Int64("sender_id", msg.FromID), logx.Err(err))
		}
	}
	return nil
}

// Reply resolves an operator's reply to relayID and delivers it.
func (e *Engine) Reply(ctx context.Context, operatorID int64, relayID string, reply Reply) (bool, error) {
	if !e.copyReplies.Load() && reply.Text != "" {
		reply.Source = nil
	}
	return e.Resolver.ResolveAndDeliver(ctx, operatorID, relayID, reply)
}

// SenderOf returns the original sender of a relayed copy.
func (e *Engine) SenderOf(ctx context.Context, relayID string) (int64, error) {
	c, err := e.Correlations.Get(ctx, relayID)
	if err != nil {
		return 0, err
	}
	return c.SenderID, nil
}

// Ban bans userID and notifies them. changed is false if already banned.
func (e *Engine) Ban(ctx context.Context, actorID, userID int64) (bool, error) {
	return e.setBanned(ctx, actorID, userID, true)
}

func (e *Engine) Unban(ctx context.Context, actorID, userID int64) (bool, error) {
	return e.setBanned(ctx, actorID, userID, false)
}

func (e *Engine) setBanned(ctx context.Context, actorID, userID int64, banned bool) (bool, error) {
	if err := e.Auth.Require(actorID); err != nil {
		return false, err
	}
	if banned && e.Auth.IsOperator(userID) {
		return false, fmt.Errorf("%w: cannot ban an operator", ErrInvalidArgument)
	}
	changed, err := e.Registry.SetBanned(ctx, userID, banned)
	if err != nil {
		return false, err
	}

	action, topic, notice := "unban", eventbus.TopicUserUnbanned, e.Messages().UnbannedTarget
	if banned {
		action, topic, notice = "ban", eventbus.TopicUserBanned, e.Messages().BannedTarget
	}
	e.audit(ctx, storage.AuditEntry{ActorID: actorID, Action: action, Target: strconv.FormatInt(userID, 10), OK: boolInt(changed)})
	if !changed {
		return false, nil
	}
	e.metrics.incBan(action)
	e.bus.Publish(eventbus.Event{Topic: topic, ActorID: actorID, SubjectID: userID})
	e.log.Info("ban state changed", logx.String("action", action), logx.Int64("user_id", userID), logx.Int64("actor_id", actorID))

	if _, err := e.sender.SendText(ctx, transport.ChatTarget{ChatID: userID}, notice, nil); err != nil {
		e.log.Debug("ban notification not delivered", logx.Int64("user_id", userID), logx.Err(err))
	}
	return true, nil
}

// SetMode switches the relay target for future relays.
func (e *Engine) SetMode(ctx context.Context, actorID int64, m Mode) error {
	if err := e.Auth.Require(actorID); err != nil {
		return err
	}
	prev := e.Mode.Current()
	if err := e.Mode.Set(ctx, m); err != nil {
		return err
	}
	e.audit(ctx, storage.AuditEntry{ActorID: actorID, Action: "mode", Target: m.String()})
	if prev != m {
		e.bus.Publish(eventbus.Event{Topic: eventbus.TopicModeChanged, ActorID: actorID, Detail: m.String()})
		e.log.Info("mode changed", logx.String("from", prev.String()), logx.String("to", m.String()))
	}
	return nil
}

// Broadcast runs a fan-out on behalf of an operator.
func (e *Engine) Broadcast(ctx context.Context, actorID int64, c Content) (Result, error) {
	if err := e.Auth.Require(actorID); err != nil {
		return Result{}, err
	}
	res, err := e.Broadcaster.Broadcast(ctx, c)
	entry := storage.AuditEntry{ActorID: actorID, Action: "broadcast", OK: res.Delivered, Fail: res.Failed}
	if err != nil {
		entry.Error = err.Error()
	}
	e.audit(ctx, entry)
	if err != nil {
		return res, err
	}
	e.bus.Publish(eventbus.Event{Topic: eventbus.TopicBroadcastFinished, ActorID: actorID, OK: res.Delivered, Fail: res.Failed})
	e.log.Info("broadcast finished",
		logx.Int("attempted", res.Attempted),
		logx.Int("delivered", res.Delivered),
		logx.Int("failed", res.Failed),
		logx.Int("unreachable", res.Unreachable),
		logx.Int("throttled", res.Throttled),
		logx.Duration("took", res.Duration),
	)
	return res, nil
}

type Stats struct {
	Users        int
	Banned       int
	Correlations int
	Mode         Mode
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	uc, err := e.Registry.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	n, err := e.Correlations.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Users: uc.Total, Banned: uc.Banned, Correlations: n, Mode: e.Mode.Current()}, nil
}

// PruneExpired evicts correlations older than the configured TTL.
func (e *Engine) PruneExpired(ctx context.Context) (int, error) {
	n, err := e.Correlations.Prune(ctx, time.Duration(e.ttl.Load()))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.metrics.addPruned(n)
		e.bus.Publish(eventbus.Event{Topic: eventbus.TopicPruned, OK: n})
		e.log.Info("expired correlations pruned", logx.Int("count", n))
	}
	return n, nil
}

func (e *Engine) audit(ctx context.Context, entry storage.AuditEntry) {
	if err := e.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		e.log.Warn("audit append failed", logx.String("action", entry.Action), logx.Err(err))
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
