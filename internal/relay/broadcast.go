package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// Outcome is the per-recipient result of a broadcast delivery.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeUnreachable
	OutcomeThrottled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeThrottled:
		return "throttled"
	default:
		return "failed"
	}
}

type RecipientResult struct {
	UserID  int64
	Outcome Outcome
	Err     error
}

// Result aggregates a run. Attempted == Delivered + Failed always holds;
// Unreachable and Throttled break Failed down further.
type Result struct {
	Attempted   int
	Delivered   int
	Failed      int
	Unreachable int
	Throttled   int
	Duration    time.Duration
}

func (r *Result) add(o Outcome) {
	r.Attempted++
	switch o {
	case OutcomeDelivered:
		r.Delivered++
		return
	case OutcomeUnreachable:
		r.Unreachable++
	case OutcomeThrottled:
		r.Throttled++
	}
	r.Failed++
}

// Content is either plain text or an existing message to forward.
type Content struct {
	Text   string
	Source *transport.MessageRef
}

type BroadcastOptions struct {
	// Workers bounds concurrent deliveries. Throttle waits block only the
	// worker handling that recipient.
	Workers int
	// RatePerSec paces delivery starts across all workers.
	RatePerSec int
	// MaxThrottleWait caps how long a single recipient may wait on a
	// throttle signal before its one retry. Longer waits count as throttled.
	MaxThrottleWait time.Duration
}

func (o BroadcastOptions) withDefaults() BroadcastOptions {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 25
	}
	if o.MaxThrottleWait <= 0 {
		o.MaxThrottleWait = time.Minute
	}
	return o
}

type Broadcaster struct {
	registry *Registry
	sender   transport.Sender

	mu      sync.RWMutex
	opts    BroadcastOptions
	limiter *rate.Limiter

	log     logx.Logger
	bus     eventbus.Bus
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewBroadcaster(registry *Registry, sender transport.Sender, opts BroadcastOptions, log logx.Logger, bus eventbus.Bus, m *Metrics) *Broadcaster {
	b := &Broadcaster{registry: registry, sender: sender, log: log, bus: bus, metrics: m, sleep: sleepCtx}
	b.SetOptions(opts)
	return b
}

func (b *Broadcaster) SetOptions(opts BroadcastOptions) {
	opts = opts.withDefaults()
	b.mu.Lock()
	b.opts = opts
	b.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec)
	b.mu.Unlock()
}

func (b *Broadcaster) settings() (BroadcastOptions, *rate.Limiter) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opts, b.limiter
}

// Broadcast delivers content to every non-banned user. One recipient's
// failure never aborts the run; only a registry failure is returned as an
// error. The user list is read once at the start.
func (b *Broadcaster) Broadcast(ctx context.Context, c Content) (Result, error) {
	if c.Source == nil && strings.TrimSpace(c.Text) == "" {
		return Result{}, fmt.Errorf("%w: empty broadcast", ErrInvalidArgument)
	}
	recipients, err := b.registry.Eligible(ctx)
	if err != nil {
		return Result{}, err
	}

	opts, limiter := b.settings()
	start := time.Now()

	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, id := range recipients {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return nil
			}
			rr := b.deliver(gctx, id, c, opts.MaxThrottleWait)
			b.metrics.incBroadcast(rr.Outcome)
			if rr.Err != nil {
				b.log.Debug("broadcast recipient failed",
					logx.Int64("user_id", id),
					logx.String("outcome", rr.Outcome.String()),
					logx.Err(rr.Err),
				)
			}
			mu.Lock()
			res.add(rr.Outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	res.Duration = time.Since(start)
	return res, nil
}

// deliver attempts one recipient, honoring a single throttle signal with one
// retry after the requested wait.
func (b *Broadcaster) deliver(ctx context.Context, userID int64, c Content, maxWait time.Duration) RecipientResult {
	err := b.send(ctx, userID, c)
	if wait, ok := transport.RetryAfter(err); ok {
		if wait > maxWait {
			return RecipientResult{UserID: userID, Outcome: OutcomeThrottled, Err: err}
		}
		if serr := b.sleep(ctx, wait); serr != nil {
			return RecipientResult{UserID: userID, Outcome: OutcomeThrottled, Err: err}
		}
		err = b.send(ctx, userID, c)
	}
	return RecipientResult{UserID: userID, Outcome: classify(err), Err: err}
}

func (b *Broadcaster) send(ctx context.Context, userID int64, c Content) error {
	to := transport.ChatTarget{ChatID: userID}
	var err error
	if c.Source != nil {
		_, err = b.sender.ForwardMessage(ctx, to, *c.Source)
	} else {
		_, err = b.sender.SendText(ctx, to, c.Text, &transport.SendOptions{DisablePreview: true})
	}
	return err
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDelivered
	case errors.Is(err, transport.ErrUnreachable):
		return OutcomeUnreachable
	case errors.Is(err, transport.ErrThrottled):
		return OutcomeThrottled
	default:
		return OutcomeFailed
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
