// Package app wires the relay engine to its transport, storage, scheduler
// and ops endpoints, and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/observability/ops"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

const pruneJob = "correlations.prune"

// botAdapter is what the app needs from a chat transport.
type botAdapter interface {
	transport.Adapter
	transport.CommandMenuUpdater
	Username() string
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry

	store   storage.Store
	adapter botAdapter
	engine  *relay.Engine
	cmdm    *router.CommandManager
	sched   *scheduler.Service
	ops     *ops.Service

	updates chan transport.Update
}

// New loads the config at cfgPath, opens storage and builds every component.
// Nothing talks to Telegram until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLogging(cfg), nil)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logs.SetSender(func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, transport.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &transport.SendOptions{DisablePreview: true})
		return err
	})
	return newApp(ctx, cfgm, cfg, logs, log, ad)
}

func newApp(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config, logs *logx.Service, log logx.Logger, ad botAdapter) (*App, error) {
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bus := eventbus.New()

	ropts, err := mapRelayOptions(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ropts.Store = store
	ropts.Sender = ad
	ropts.Log = log
	ropts.Bus = bus
	ropts.Metrics = relay.NewMetrics(reg)
	eng, err := relay.New(ropts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rtOpts, err := mapRouterOptions(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rtOpts.BotUsername = ad.Username
	cmdm := router.NewCommandManager(log, eng, ad, rtOpts)

	opsCfg, err := mapOps(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	health := func(ctx context.Context) error {
		_, err := eng.Stats(ctx)
		return err
	}

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     bus,
		reg:     reg,
		store:   store,
		adapter: ad,
		engine:  eng,
		cmdm:    cmdm,
		sched:   scheduler.New(mapScheduler(cfg), log.With(logx.String("comp", "scheduler"))),
		ops:     ops.New(opsCfg, reg, health, log.With(logx.String("comp", "ops"))),
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app context is cancelled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	// transactional reload: a config that fails mapping is never committed
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if _, err := mapRelayOptions(c); err != nil {
			return err
		}
		if _, err := mapRouterOptions(c); err != nil {
			return err
		}
		_, err := mapOps(c)
		return err
	})

	if err := a.engine.Start(runCtx); err != nil {
		return fmt.Errorf("relay engine: %w", err)
	}
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if err := a.cmdm.PublishMenu(runCtx); err != nil {
		a.log.Warn("command menu not published", logx.Err(err))
	}

	if err := a.addPruneSchedule(cfg); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	if opsCfg, err := mapOps(cfg); err == nil {
		a.ops.Reconfigure(runCtx, opsCfg)
	}

	a.sup.Go("telegram.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	// subscribe before returning so nothing published after Start is missed
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.consumer", func(c context.Context) {
		defer unsub()
		a.eventLoop(c, events)
	})
	cfgSub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(cfgSub)
		a.reloadLoop(c, cfgSub, cfg)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.watchdog)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.String("mode", a.engine.CurrentMode().String()),
	)
	return nil
}

func (a *App) addPruneSchedule(cfg *config.Config) error {
	return a.sched.AddSchedule(pruneJob, cfg.Relay.Schedule(), time.Minute, func(ctx context.Context) error {
		_, err := a.engine.PruneExpired(ctx)
		return err
	})
}

// watchdog pings systemd when the unit sets WatchdogSec.
func (a *App) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config, last *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Summarize(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogging(next))
	}

	if s, err := mapRelaySettings(next); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(s)
	}

	a.sched.Apply(mapScheduler(next))
	if prev.Relay.Schedule() != next.Relay.Schedule() {
		if err := a.addPruneSchedule(next); err != nil {
			a.log.Warn("invalid prune schedule; keeping previous", logx.Err(err))
			_ = a.addPruneSchedule(prev)
		}
	}

	if oc, err := mapOps(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
