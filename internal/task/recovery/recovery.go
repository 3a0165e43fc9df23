// Package recovery reconciles the ledger with in-memory timers after a
// process start: overdue rows fire now, future rows are re-armed.
package recovery

import (
	"context"
	"fmt"
	"time"

	"mycelium/internal/eventbus"
	"mycelium/internal/metrics"
	"mycelium/internal/task"
	"mycelium/internal/task/clock"
	logx "mycelium/pkg/logx"
)

// Ledger is the read side recovery needs.
type Ledger interface {
	AllPending(ctx context.Context) ([]task.DeferredTask, error)
}

// Scheduler is what recovery drives. scheduler.Service implements it.
type Scheduler interface {
	Fire(ctx context.Context, t task.DeferredTask) error
	Arm(t task.DeferredTask) error
}

type Config struct {
	// Attempts bounds AllPending retries on storage failure.
	Attempts int
	Backoff  time.Duration
}

// Report summarizes one recovery run.
type Report struct {
	Due     int `json:"due"`
	Fired   int `json:"fired"`
	Failed  int `json:"failed"`
	Rearmed int `json:"rearmed"`
}

type Coordinator struct {
	cfg   Config
	led   Ledger
	sched Scheduler
	clock clock.Clock
	log   logx.Logger
	bus   eventbus.Bus
}

func New(cfg Config, led Ledger, sched Scheduler, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Coordinator {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{cfg: cfg, led: led, sched: sched, clock: clk, log: log.With(logx.String("comp", "recovery")), bus: bus}
}

// Run loads every pending row once. Rows due at or before now fire
// synchronously, oldest due first; a failing row is logged and kept for the
// next start. The rest are armed for their remaining delay.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	var rep Report

	pending, err := c.loadPending(ctx)
	if err != nil {
		return rep, err
	}

	now := c.clock.Now()
	var due, future []task.DeferredTask
	for _, t := range pending {
		if !t.DueAt.After(now) {
			due = append(due, t)
		} else {
			future = append(future, t)
		}
	}
	rep.Due = len(due)

	// AllPending is ordered by due_at, seq; keep that order.
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := c.sched.Fire(ctx, t); err != nil {
			rep.Failed++
			metrics.RecoveryTasks.WithLabelValues("failed").Inc()
			c.log.Warn("overdue task failed during recovery; row kept", logx.Task(t.ID, t.Kind), logx.Time("due_at", t.DueAt), logx.Err(err))
			continue
		}
		rep.Fired++
		metrics.RecoveryTasks.WithLabelValues("fired").Inc()
	}

	for _, t := range future {
		if err := c.sched.Arm(t); err != nil {
			rep.Failed++
			metrics.RecoveryTasks.WithLabelValues("failed").Inc()
			c.log.Warn("task could not be re-armed", logx.Task(t.ID, t.Kind), logx.Err(err))
			continue
		}
		rep.Rearmed++
		metrics.RecoveryTasks.WithLabelValues("rearmed").Inc()
	}

	c.log.Info("recovery finished",
		logx.Int("pending", len(pending)),
		logx.Int("due", rep.Due),
		logx.Int("fired", rep.Fired),
		logx.Int("failed", rep.Failed),
		logx.Int("rearmed", rep.Rearmed),
	)
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TaskRecovered, Time: now, Data: rep})
	}
	return rep, nil
}

func (c *Coordinator) loadPending(ctx context.Context) ([]task.DeferredTask, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		pending, err := c.led.AllPending(ctx)
		if err == nil {
			return pending, nil
		}
		lastErr = err
		if attempt == c.cfg.Attempts {
			break
		}
		delay := c.cfg.Backoff * time.Duration(1<<(attempt-1))
		c.log.Warn("loading pending tasks failed; retrying", logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("recovery: load pending after %d attempts: %w", c.cfg.Attempts, lastErr)
}
