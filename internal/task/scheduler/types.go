package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mycelium/internal/eventbus"
	"mycelium/internal/task"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/engine"
	logx "mycelium/pkg/logx"
)

// Clock is the time source for deadlines.
type Clock = clock.Clock

// Config controls the scheduler.
type Config struct {
	// ReconcileSchedule is a cron spec for the re-arm sweep. Empty disables it.
	ReconcileSchedule string
	// FireTimeout bounds one handler attempt. 0 means the engine default.
	FireTimeout time.Duration
	// Timezone is the IANA zone for housekeeping cron specs.
	Timezone string
}

// Invoker resolves and runs a handler reference. bridge.Registry implements it.
type Invoker interface {
	Invoke(ctx context.Context, kind string, ref task.HandlerRef) error
}

// Dispatcher runs fire work off the timer goroutine. engine.Service
// implements it.
type Dispatcher interface {
	Enqueue(t engine.Task) error
}

// Source lists the pending ledger rows for the reconcile sweep.
type Source interface {
	AllPending(ctx context.Context) ([]task.DeferredTask, error)
}

// ArmedTask describes a live timer.
type ArmedTask struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Handler string    `json:"handler"`
	DueAt   time.Time `json:"due_at"`
}

type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type Snapshot struct {
	Running  bool        `json:"running"`
	Timezone string      `json:"timezone"`
	Armed    []ArmedTask `json:"armed"`
	InFlight []string    `json:"in_flight"`
	Failed   []string    `json:"failed"`
	Jobs     []JobInfo   `json:"jobs"`
}

type armed struct {
	kind  string
	ref   task.HandlerRef
	dueAt time.Time
	timer clock.Timer
	ver   uint64
}

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	bus    eventbus.Bus
	clock  Clock
	invoke Invoker
	engine Dispatcher
	source Source

	parser cron.Parser
	c      *cron.Cron
	jobs   []jobDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// timer state; guarded by tmu
	tmu      sync.Mutex
	armed    map[string]*armed
	inflight map[string]struct{}
	failed   map[string]struct{}
	ver      uint64
	seq      uint64
}
