package scheduler

import (
	"errors"
	"time"

	"mycelium/internal/task/engine"
	logx "mycelium/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) {
		s.log.Debug("dispatch skipped: engine stopping", logx.String("name", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	// Queue full is bursty; one line per name per window.
	s.log.Warn("scheduler failed to enqueue", logx.String("name", name), logx.Err(err))
}
