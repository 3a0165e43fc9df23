package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mycelium/internal/eventbus"
	"mycelium/internal/metrics"
	"mycelium/internal/task"
	"mycelium/internal/task/engine"
	logx "mycelium/pkg/logx"
)

// ScheduleOnce fires ref once, delaySeconds from now. It returns the timer
// key: ref.TaskID when set, otherwise a generated one usable with Cancel.
// No ledger row is written.
func (s *Service) ScheduleOnce(kind string, delaySeconds int64, ref task.HandlerRef) (string, error) {
	if delaySeconds <= 0 {
		return "", task.ErrInvalidDelay
	}
	if ref.IsZero() {
		return "", errors.New("handler ref required")
	}
	id := ref.TaskID
	if id == "" {
		s.tmu.Lock()
		s.seq++
		id = fmt.Sprintf("once-%d", s.seq)
		s.tmu.Unlock()
	}
	if delaySeconds > task.MaxDelay {
		return "", task.ErrInvalidDelay
	}
	due := s.clock.Now().Add(time.Duration(delaySeconds) * time.Second)
	s.arm(id, kind, ref, due)
	return id, nil
}

// Arm starts the timer for a persisted task at its DueAt. A deadline in the
// past fires on the next tick. Re-arming the same id replaces the old timer.
func (s *Service) Arm(t task.DeferredTask) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id required")
	}
	if t.Handler.IsZero() {
		return fmt.Errorf("task %s has no handler", t.ID)
	}
	s.tmu.Lock()
	delete(s.failed, t.ID)
	s.tmu.Unlock()
	s.arm(t.ID, t.Kind, t.Ref(), t.DueAt)
	return nil
}

func (s *Service) arm(id, kind string, ref task.HandlerRef, due time.Time) {
	delay := due.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	if prev, ok := s.armed[id]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	// version guards against a stale callback from a replaced timer
	s.ver++
	ver := s.ver
	a := &armed{kind: kind, ref: ref, dueAt: due, ver: ver}
	s.armed[id] = a
	// AfterFunc may run the callback synchronously with a manual clock, so
	// it must not be called under tmu.
	s.tmu.Unlock()

	timer := s.clock.AfterFunc(delay, func() { s.onTimer(id, ver) })

	s.tmu.Lock()
	if cur, ok := s.armed[id]; ok && cur.ver == ver {
		cur.timer = timer
	}
	n := len(s.armed)
	s.tmu.Unlock()
	metrics.TasksArmed.Set(float64(n))

	s.log.Debug("task armed", logx.Task(id, kind), logx.Time("due_at", due), logx.Duration("in", delay))
	s.publish(eventbus.TaskArmed, ArmedTask{ID: id, Kind: kind, Handler: ref.String(), DueAt: due})
}

// Cancel stops an armed timer. It reports false when nothing was armed,
// including after the task already fired.
func (s *Service) Cancel(id string) bool {
	s.tmu.Lock()
	a, ok := s.armed[id]
	if ok {
		delete(s.armed, id)
		if a.timer != nil {
			a.timer.Stop()
		}
	}
	n := len(s.armed)
	s.tmu.Unlock()
	if !ok {
		return false
	}
	metrics.TasksArmed.Set(float64(n))
	s.log.Debug("task cancelled", logx.Task(id, a.kind))
	s.publish(eventbus.TaskCancelled, ArmedTask{ID: id, Kind: a.kind, Handler: a.ref.String(), DueAt: a.dueAt})
	return true
}

// Fire runs t's handler on the calling goroutine. Any armed timer for t is
// dropped first so the task cannot fire twice.
func (s *Service) Fire(ctx context.Context, t task.DeferredTask) error {
	s.tmu.Lock()
	if a, ok := s.armed[t.ID]; ok {
		delete(s.armed, t.ID)
		if a.timer != nil {
			a.timer.Stop()
		}
	}
	s.inflight[t.ID] = struct{}{}
	s.tmu.Unlock()

	err := s.run(ctx, t.ID, t.Kind, t.Ref(), t.DueAt)
	s.finish(t.ID, t.Kind, err)
	return err
}

func (s *Service) onTimer(id string, ver uint64) {
	s.tmu.Lock()
	a, ok := s.armed[id]
	if !ok || a.ver != ver {
		s.tmu.Unlock()
		return
	}
	// leave the armed set before dispatch: at most one fire per arm
	delete(s.armed, id)
	s.inflight[id] = struct{}{}
	n := len(s.armed)
	s.tmu.Unlock()
	metrics.TasksArmed.Set(float64(n))

	kind, ref, due := a.kind, a.ref, a.dueAt
	if s.engine == nil {
		s.fireDirect(id, kind, ref, due)
		return
	}

	err := s.engine.Enqueue(engine.Task{
		ID:      id,
		Name:    "fire." + kind,
		Timeout: s.fireTimeout(),
		Run: func(ctx context.Context) error {
			err := s.run(ctx, id, kind, ref, due)
			if task.IsDefinitive(err) {
				return engine.NoRetry(err)
			}
			return err
		},
		OnDone: func(err error, _ int) { s.finish(id, kind, err) },
	})
	if errors.Is(err, engine.ErrDisabled) {
		// a disabled pool must not swallow live fires
		s.fireDirect(id, kind, ref, due)
		return
	}
	if err != nil {
		// The row, if any, stays; the reconcile sweep picks it up again.
		s.tmu.Lock()
		delete(s.inflight, id)
		s.tmu.Unlock()
		metrics.TaskFires.WithLabelValues(kind, "dropped").Inc()
		s.publish(eventbus.TaskDropped, ArmedTask{ID: id, Kind: kind, Handler: ref.String(), DueAt: due})
		s.reportEnqueueError("fire."+kind, err)
	}
}

// fireDirect runs the fire on its own goroutine, bounded by FireTimeout.
func (s *Service) fireDirect(id, kind string, ref task.HandlerRef, due time.Time) {
	go func() {
		ctx, cancel := s.fireContext()
		defer cancel()
		err := s.run(ctx, id, kind, ref, due)
		s.finish(id, kind, err)
	}()
}

func (s *Service) fireContext() (context.Context, context.CancelFunc) {
	if d := s.fireTimeout(); d > 0 {
		return context.WithTimeout(context.Background(), d)
	}
	return context.WithCancel(context.Background())
}

func (s *Service) run(ctx context.Context, id, kind string, ref task.HandlerRef, due time.Time) error {
	now := s.clock.Now()
	if late := now.Sub(due); late > 0 {
		metrics.TaskFireLatency.WithLabelValues(kind).Observe(late.Seconds())
	} else {
		metrics.TaskFireLatency.WithLabelValues(kind).Observe(0)
	}
	s.log.Debug("task fired", logx.Task(id, kind), logx.String("handler", ref.String()))
	s.publish(eventbus.TaskFired, ArmedTask{ID: id, Kind: kind, Handler: ref.String(), DueAt: due})
	if s.invoke == nil {
		return task.Definitive(task.ErrUnknownHandler)
	}
	return s.invoke.Invoke(ctx, kind, ref)
}

func (s *Service) finish(id, kind string, err error) {
	s.tmu.Lock()
	delete(s.inflight, id)
	if err != nil {
		s.failed[id] = struct{}{}
	}
	s.tmu.Unlock()

	metrics.TaskFires.WithLabelValues(kind, metrics.Result(err)).Inc()
	if err != nil {
		s.log.Warn("task fire failed; row kept for next start", logx.Task(id, kind), logx.Err(err))
		s.publish(eventbus.TaskFailed, ArmedTask{ID: id, Kind: kind})
		return
	}
	s.publish(eventbus.TaskCompleted, ArmedTask{ID: id, Kind: kind})
}

func (s *Service) fireTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.FireTimeout
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}
