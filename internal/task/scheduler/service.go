package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"mycelium/internal/eventbus"
	"mycelium/internal/metrics"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/engine"
	logx "mycelium/pkg/logx"
)

const reconcileJob = "scheduler.reconcile"

type Option func(*Service)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithSource enables the reconcile sweep over src.
func WithSource(src Source) Option { return func(s *Service) { s.source = src } }

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func New(cfg Config, inv Invoker, eng Dispatcher, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		invoke: inv,
		engine: eng,
		clock:  clock.Real(),
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastEnqWarn: map[string]time.Time{},
		armed:       map[string]*armed{},
		inflight:    map[string]struct{}{},
		failed:      map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Clock() Clock { return s.clock }

// Apply swaps the config. Housekeeping jobs restart when the timezone or the
// reconcile spec changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) ||
		strings.TrimSpace(prev.ReconcileSchedule) != strings.TrimSpace(cfg.ReconcileSchedule) {
		s.restartLocked()
	}
}

// AddJob registers a housekeeping cron job. Each trigger is enqueued on the
// task engine under name.
func (s *Service) AddJob(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" {
		return errors.New("job name required")
	}
	if job == nil {
		return errors.New("job func required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobLocked(name)
	s.jobs = append(s.jobs, jobDef{name: name, spec: spec, timeout: timeout, job: job})
	if s.c != nil {
		return s.addCronLocked(&s.jobs[len(s.jobs)-1])
	}
	return nil
}

// RemoveJob drops a housekeeping job by name.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeJobLocked(name)
}

// Start begins cron triggering. Timers armed before Start are already live.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts cron and all armed timers. Ledger rows stay, so the next
// process start recovers them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	n := len(s.armed)
	for id, a := range s.armed {
		// arm publishes the entry before its timer is set
		if a.timer != nil {
			a.timer.Stop()
		}
		delete(s.armed, id)
	}
	s.tmu.Unlock()
	metrics.TasksArmed.Set(0)

	s.log.Info("scheduler stopped", logx.Int("disarmed", n), logx.Duration("took", time.Since(start)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	s.removeJobLocked(reconcileJob)
	if spec := strings.TrimSpace(s.cfg.ReconcileSchedule); spec != "" && s.source != nil {
		s.jobs = append(s.jobs, jobDef{name: reconcileJob, spec: spec, job: func(ctx context.Context) error {
			_, err := s.Reconcile(ctx)
			return err
		}})
	}
	for i := range s.jobs {
		if err := s.addCronLocked(&s.jobs[i]); err != nil {
			s.log.Warn("housekeeping job rejected", logx.String("job", s.jobs[i].name), logx.String("spec", s.jobs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.startLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) addCronLocked(d *jobDef) error {
	name, timeout, run := d.name, d.timeout, d.job
	job := cron.FuncJob(func() {
		var err error
		if s.engine != nil {
			err = s.engine.Enqueue(engine.Task{
				Name:    name,
				Timeout: timeout,
				Run:     run,
				Opt:     engine.TaskOptions{RetryMax: -1},
			})
		}
		if s.engine == nil || errors.Is(err, engine.ErrDisabled) {
			s.runJobInline(name, timeout, run)
			return
		}
		if err != nil {
			s.reportEnqueueError(name, err)
		}
	})
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// runJobInline runs a housekeeping job on the cron goroutine when no worker
// pool is available.
func (s *Service) runJobInline(name string, timeout time.Duration, run func(context.Context) error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()
	if err := run(ctx); err != nil {
		s.log.Warn("housekeeping job failed", logx.String("job", name), logx.Err(err))
	}
}

func (s *Service) removeJobLocked(name string) bool {
	for i := range s.jobs {
		if s.jobs[i].name != name {
			continue
		}
		if s.c != nil && s.jobs[i].entryID != 0 {
			s.c.Remove(s.jobs[i].entryID)
		}
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
