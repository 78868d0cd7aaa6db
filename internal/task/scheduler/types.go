package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

// Job is one scheduled unit of work. The context is cancelled when the job
// timeout elapses or the scheduler stops.
type Job func(ctx context.Context) error

type runStats struct {
	mu       sync.Mutex
	runs     uint64
	failures uint64
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

type scheduleDef struct {
	name    string
	spec    string // normalized cron spec or "@every <d>"
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	phase   time.Duration
	stats   *runStats
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// ctx is the parent of every job run; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	// Phase is the offset of an @every job from its interval grid.
	Phase     time.Duration
	Next      time.Time
	Prev      time.Time
	Runs      uint64
	Failures  uint64
	LastTook  time.Duration
	LastError string
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
