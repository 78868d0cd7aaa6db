package app

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/observability/ops"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.GroupLog,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapMessages(m config.MessagesConfig) relay.Messages {
	return relay.Messages{
		Welcome:        m.Welcome,
		BannedNotice:   m.BannedNotice,
		Acknowledged:   m.Acknowledged,
		RelayFailed:    m.RelayFailed,
		BannedTarget:   m.BannedTarget,
		UnbannedTarget: m.UnbannedTarget,
		ReplySent:      m.ReplySent,
		ReplyFailed:    m.ReplyFailed,
		NoConversation: m.NoConversation,
		ReplyInFlight:  m.ReplyInFlight,
		OperatorHint:   m.OperatorHint,
		Unauthorized:   m.Unauthorized,
	}
}

// mapRelaySettings returns the hot-reloadable engine settings.
func mapRelaySettings(cfg *config.Config) (relay.Settings, error) {
	ttl, err := cfg.Relay.TTL()
	if err != nil {
		return relay.Settings{}, err
	}
	maxWait, err := config.ParseDurationOrDefault("broadcast.max_throttle_wait", cfg.Broadcast.MaxThrottleWait, 0)
	if err != nil {
		return relay.Settings{}, err
	}
	return relay.Settings{
		Operators:          append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		Group:              transport.ChatTarget{ChatID: cfg.Relay.GroupChatID, ThreadID: cfg.Relay.GroupThreadID},
		RetainCorrelations: cfg.Relay.RetainCorrelations,
		CorrelationTTL:     ttl,
		Acknowledge:        cfg.Relay.AcknowledgeEnabled(),
		CopyReplies:        cfg.Relay.CopyReplies(),
		BanButton:          cfg.Relay.BanButtonEnabled(),
		Broadcast: relay.BroadcastOptions{
			Workers:         cfg.Broadcast.Workers,
			RatePerSec:      cfg.Broadcast.RatePerSec,
			MaxThrottleWait: maxWait,
		},
		Messages: mapMessages(cfg.Messages),
	}, nil
}

func mapRelayOptions(cfg *config.Config) (relay.Options, error) {
	s, err := mapRelaySettings(cfg)
	if err != nil {
		return relay.Options{}, err
	}
	mode, err := relay.ParseMode(cfg.Relay.Mode())
	if err != nil {
		return relay.Options{}, fmt.Errorf("relay.default_mode: %w", err)
	}
	return relay.Options{
		Operators:          s.Operators,
		Group:              s.Group,
		DefaultMode:        mode,
		RetainCorrelations: s.RetainCorrelations,
		CorrelationTTL:     s.CorrelationTTL,
		Acknowledge:        s.Acknowledge,
		CopyReplies:        s.CopyReplies,
		BanButton:          s.BanButton,
		Broadcast:          s.Broadcast,
		Messages:           s.Messages,
	}, nil
}

func mapRouterOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, 0)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{
		Workers:        cfg.Telegram.Workers,
		QueueSize:      cfg.Telegram.QueueSize,
		CommandTimeout: timeout,
	}, nil
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	var (
		out = ops.Config{
			Enabled:              o.Enabled,
			Addr:                 strings.TrimSpace(o.Addr),
			Token:                strings.TrimSpace(o.Token),
			Pprof:                o.Pprof,
			Prefix:               o.Prefix,
			AllowInsecure:        o.AllowInsecure,
			MutexProfileFraction: o.MutexProfileFraction,
			BlockProfileRate:     o.BlockProfileRate,
		}
		err error
	)
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	// pprof profile/trace endpoints stream for up to 30s by default.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
