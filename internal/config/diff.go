package config

import (
	"reflect"
	"strings"

	"relaybot/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	Sections []string
	Fields   []logx.Field
	// RestartRequired lists changed sections that only apply after a restart.
	RestartRequired []string
}

// Summarize compares two configs for the reload log line. Secrets (bot
// token, ops token, storage DSN) are reported only as "set" flags.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	section := func(name string, differs bool, restart bool, fields ...logx.Field) {
		if !differs {
			return
		}
		ch.Sections = append(ch.Sections, name)
		ch.Fields = append(ch.Fields, fields...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, name)
		}
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	section("telegram.token", o.Token != n.Token, true)
	section("telegram",
		!reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) || o.GroupLog != n.GroupLog ||
			o.PollTimeout != n.PollTimeout || o.Workers != n.Workers || o.QueueSize != n.QueueSize ||
			o.CommandTimeout != n.CommandTimeout,
		o.PollTimeout != n.PollTimeout || o.Workers != n.Workers || o.QueueSize != n.QueueSize,
		logx.Int("telegram.operators", len(n.OwnerUserIDs)),
		logx.Bool("telegram.group_log_set", n.GroupLog != 0),
	)

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging), false,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)

	r := newCfg.Relay
	section("relay", !reflect.DeepEqual(oldCfg.Relay, r), oldCfg.Relay.DefaultMode != r.DefaultMode,
		logx.Int64("relay.group_chat_id", r.GroupChatID),
		logx.Bool("relay.retain", r.RetainCorrelations),
		logx.String("relay.ttl", r.CorrelationTTL),
		logx.String("relay.prune_schedule", r.Schedule()),
		logx.String("relay.reply_mode", r.ReplyMode),
	)

	section("broadcast", oldCfg.Broadcast != newCfg.Broadcast, false,
		logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
		logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
	)
	section("messages", oldCfg.Messages != newCfg.Messages, false)

	s := newCfg.Storage
	section("storage", oldCfg.Storage != s, true,
		logx.String("storage.driver", s.Driver),
		logx.Bool("storage.dsn_set", strings.TrimSpace(s.DSN) != ""),
	)
	section("scheduler", oldCfg.Scheduler != newCfg.Scheduler, false,
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
	)

	op := newCfg.Ops
	section("ops", oldCfg.Ops != op, false,
		logx.Bool("ops.enabled", op.Enabled),
		logx.String("ops.addr", op.Addr),
		logx.Bool("ops.pprof", op.Pprof),
		logx.Bool("ops.token_set", strings.TrimSpace(op.Token) != ""),
	)
	return ch
}
