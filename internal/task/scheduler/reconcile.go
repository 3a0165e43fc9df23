package scheduler

import (
	"context"

	logx "mycelium/pkg/logx"
)

// Reconcile arms every pending row that has no live timer, is not being
// fired right now and has not already failed in this process. It returns
// the number of rows armed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, nil
	}
	pending, err := s.source.AllPending(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, t := range pending {
		s.tmu.Lock()
		_, isArmed := s.armed[t.ID]
		_, isInflight := s.inflight[t.ID]
		_, isFailed := s.failed[t.ID]
		s.tmu.Unlock()
		if isArmed || isInflight || isFailed {
			continue
		}
		if err := s.Arm(t); err != nil {
			s.log.Warn("reconcile could not arm task", logx.Task(t.ID, t.Kind), logx.Err(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("reconcile re-armed orphaned tasks", logx.Int("count", n))
	}
	return n, nil
}
