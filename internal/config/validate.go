package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCorrelationTTL = 168 * time.Hour
	DefaultPruneSchedule  = "@every 30m"
)

// Validate checks cross-field rules. It is also the reload validator, so an
// invalid edit is rejected and the running config stays in place.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		add("telegram.owner_user_ids must list at least one operator")
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if id <= 0 {
			add("telegram.owner_user_ids: invalid user id %d", id)
		}
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"telegram.command_timeout":    cfg.Telegram.CommandTimeout,
		"relay.correlation_ttl":       cfg.Relay.CorrelationTTL,
		"broadcast.max_throttle_wait": cfg.Broadcast.MaxThrottleWait,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"ops.read_timeout":            cfg.Ops.ReadTimeout,
		"ops.write_timeout":           cfg.Ops.WriteTimeout,
		"ops.idle_timeout":            cfg.Ops.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Relay.Mode() {
	case "private":
	case "group":
		if cfg.Relay.GroupChatID == 0 {
			add("relay.default_mode is group but relay.group_chat_id is not set")
		}
	default:
		add("relay.default_mode: want group or private, got %q", cfg.Relay.DefaultMode)
	}
	switch cfg.Relay.ReplyMode {
	case "", "copy", "text":
	default:
		add("relay.reply_mode: want copy or text, got %q", cfg.Relay.ReplyMode)
	}
	if cfg.Broadcast.Workers < 0 || cfg.Broadcast.RatePerSec < 0 {
		add("broadcast.workers and broadcast.rate_per_sec must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for driver %q", cfg.Storage.Driver)
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required for driver postgres")
		}
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}
	return errors.Join(errs...)
}

// TTL resolves relay.correlation_ttl: empty means the default and
// "0s" disables eviction.
func (r RelayConfig) TTL() (time.Duration, error) {
	if strings.TrimSpace(r.CorrelationTTL) == "" {
		return DefaultCorrelationTTL, nil
	}
	return ParseDurationField("relay.correlation_ttl", r.CorrelationTTL)
}

// Mode is the normalized default mode; empty means private.
func (r RelayConfig) Mode() string {
	if m := strings.ToLower(strings.TrimSpace(r.DefaultMode)); m != "" {
		return m
	}
	return "private"
}

func (r RelayConfig) Schedule() string {
	if s := strings.TrimSpace(r.PruneSchedule); s != "" {
		return s
	}
	return DefaultPruneSchedule
}

func (r RelayConfig) AcknowledgeEnabled() bool {
	return r.Acknowledge == nil || *r.Acknowledge
}

func (r RelayConfig) BanButtonEnabled() bool {
	return r.BanButton == nil || *r.BanButton
}

func (r RelayConfig) CopyReplies() bool { return r.ReplyMode != "text" }
