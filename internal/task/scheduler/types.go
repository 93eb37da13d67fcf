package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"partybot/internal/eventbus"
	rtsup "partybot/internal/runtime/supervisor"
	logx "partybot/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Enabled        bool
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ, e.g. "Asia/Seoul"
	HistorySize    int
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning drops a trigger while the previous run is in flight.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type TaskOptions struct {
	Overlap OverlapPolicy
}

// runState guards one schedule against overlapping runs.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type scheduleDef struct {
	id            string
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           func(ctx context.Context) error
	entryID       cron.EntryID
	startupSpread time.Duration
	opt           TaskOptions
	state         *runState
}

// onceDef is a pending one-shot job. ver tells a stale timer callback
// apart from the current definition after a replace.
type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     func(ctx context.Context) error
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef
	sup    *rtsup.Supervisor

	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type OnceInfo struct {
	Name    string
	At      time.Time
	Timeout time.Duration
}

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
	Skipped  bool
}

// TaskEvent is published on the bus as task.finished or task.failed.
type TaskEvent struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	Once      []OnceInfo
	History   []HistoryItem
	Workers   rtsup.Counters
}
