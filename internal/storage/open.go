package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relaybot/pkg/logx"
)

// Store is the persistence API used by the relay engine.
type Store interface {
	// UpsertUser inserts u when absent, otherwise refreshes profile fields.
	// The ban flag of an existing user is never touched.
	UpsertUser(ctx context.Context, u User) (created bool, err error)
	GetUser(ctx context.Context, id int64) (User, error)
	// SetBanned sets the flag, inserting the user when unknown.
	SetBanned(ctx context.Context, id int64, banned bool) (changed bool, err error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	CountUsers(ctx context.Context) (UserCounts, error)

	PutCorrelation(ctx context.Context, c Correlation) error
	GetCorrelation(ctx context.Context, relayID string) (Correlation, error)
	DeleteCorrelation(ctx context.Context, relayID string) (bool, error)
	PruneCorrelations(ctx context.Context, before time.Time) (int, error)
	CountCorrelations(ctx context.Context) (int, error)

	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store and runs migrations for SQL drivers.
// An empty driver selects "memory".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
