package config

// Config is the whole bot configuration. Durations are Go duration strings.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Relay     RelayConfig     `json:"relay"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Messages  MessagesConfig  `json:"messages"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs is the operator set: they receive relays in private mode
	// and may run admin commands.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog receives admin announcements and, when logging.telegram is on,
	// WARN+ log lines.
	GroupLog    int64  `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`

	// Dispatch settings for inbound updates.
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RelayConfig controls routing and correlation retention.
//
//	"relay": {
//	  "group_chat_id": -1001234567890,
//	  "default_mode": "private",
//	  "correlation_ttl": "168h",
//	  "prune_schedule": "@every 30m",
//	  "reply_mode": "copy"
//	}
type RelayConfig struct {
	GroupChatID   int64  `json:"group_chat_id,omitempty"`
	GroupThreadID int    `json:"group_thread_id,omitempty"`
	DefaultMode   string `json:"default_mode,omitempty"` // group | private (default)

	// RetainCorrelations keeps an entry after a successful reply so the
	// operator can answer the same copy again.
	RetainCorrelations bool `json:"retain_correlations,omitempty"`
	// CorrelationTTL: empty means 168h, "0s" disables eviction.
	CorrelationTTL string `json:"correlation_ttl,omitempty"`
	PruneSchedule  string `json:"prune_schedule,omitempty"`

	// Acknowledge defaults to true.
	Acknowledge *bool `json:"acknowledge,omitempty"`
	// ReplyMode is "copy" (default: the operator's message is copied, media
	// included) or "text" (only its text is sent).
	ReplyMode string `json:"reply_mode,omitempty"`
	// BanButton posts a sender card with a ban button under each copy
	// relayed to the group. Defaults to true.
	BanButton *bool `json:"ban_button,omitempty"`
}

type BroadcastConfig struct {
	Workers         int    `json:"workers,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	MaxThrottleWait string `json:"max_throttle_wait,omitempty"`
}

// MessagesConfig overrides user-visible texts. Empty fields keep defaults.
type MessagesConfig struct {
	Welcome        string `json:"welcome,omitempty"`
	BannedNotice   string `json:"banned_notice,omitempty"`
	Acknowledged   string `json:"acknowledged,omitempty"`
	RelayFailed    string `json:"relay_failed,omitempty"`
	BannedTarget   string `json:"banned_target,omitempty"`
	UnbannedTarget string `json:"unbanned_target,omitempty"`
	ReplySent      string `json:"reply_sent,omitempty"`
	ReplyFailed    string `json:"reply_failed,omitempty"`
	NoConversation string `json:"no_conversation,omitempty"`
	ReplyInFlight  string `json:"reply_in_flight,omitempty"`
	OperatorHint   string `json:"operator_hint,omitempty"`
	Unauthorized   string `json:"unauthorized,omitempty"`
}

// StorageConfig selects the persistence driver. Changes need a restart.
//
//	"storage": { "driver": "sqlite", "path": "./relaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite | postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone for cron triggers, e.g. "Asia/Jakarta". Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// OpsConfig controls the optional HTTP server for /metrics and pprof.
//
// Prefer a loopback address. A non-loopback bind needs a token or an
// explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"`  // bearer token, never logged
	Pprof         bool   `json:"pprof,omitempty"`  // mount /debug/pprof/
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
