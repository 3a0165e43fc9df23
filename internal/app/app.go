// Package app wires the bot together: configuration, transport, logging,
// storage, the deferred task subsystem, commands and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mycelium/internal/audit"
	"mycelium/internal/config"
	"mycelium/internal/eventbus"
	"mycelium/internal/feature"
	"mycelium/internal/feature/greeting"
	"mycelium/internal/feature/moderation"
	"mycelium/internal/feature/reminder"
	"mycelium/internal/feature/utility"
	"mycelium/internal/ops"
	rtsup "mycelium/internal/runtime/supervisor"
	"mycelium/internal/storage"
	"mycelium/internal/task/bridge"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/engine"
	"mycelium/internal/task/ledger"
	"mycelium/internal/task/recovery"
	"mycelium/internal/task/scheduler"
	kit "mycelium/internal/transport"
	telegram "mycelium/internal/transport/telegram/adapter"
	"mycelium/internal/transport/telegram/router"
	logx "mycelium/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	mu  sync.Mutex
	cfg *config.Config

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	events *eventbus.Recorder
	clock  clock.Clock
	store  storage.Store

	adapter kit.Adapter

	ledger   *ledger.Ledger
	audit    *audit.Log
	engine   *engine.Service
	registry *bridge.Registry
	sched    *scheduler.Service
	recovery *recovery.Coordinator

	cmdm     *router.Manager
	commands []router.Command
	features []feature.Feature
	ops      *ops.Service

	updates chan kit.Update
	ready   atomic.Bool
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("bot.poll_timeout", cfg.Bot.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Bot.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately. The chat sink starts disabled until the
	// target is known so Apply does not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	if chatID, ok, err := parseChatID(cfg.Bot.LogChat); err != nil {
		root.Warn("log chat ignored", logx.Err(err))
	} else if ok {
		logSvc.SetChatTarget(chatID, cfg.Logging.Chat.ThreadID)
	}
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		events:  eventbus.NewRecorder(256),
		clock:   clock.Real(),
		adapter: ad,
		updates: make(chan kit.Update, 1024),
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = a.store.Ping(pingCtx)
	cancel()
	if err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("storage ping: %w", err)
	}

	a.ledger = ledger.New(a.store, a.clock, root)
	a.audit = audit.New(a.store, a.clock, root)

	ec, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.engine = engine.New(ec, root, a.bus)

	a.registry = bridge.NewRegistry(root)

	schc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.sched = scheduler.New(schc, a.registry, a.engine, root,
		scheduler.WithClock(a.clock),
		scheduler.WithSource(a.ledger),
		scheduler.WithBus(a.bus),
	)

	rc, err := mapRecoveryConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.recovery = recovery.New(rc, a.ledger, a.sched, a.clock, root, a.bus)

	policy, err := mapCommandPolicy(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.cmdm = router.New(root, ad, cfg.Bot.OwnerUserIDs)
	a.cmdm.Apply(policy)

	deps := feature.Deps{
		Ledger:    a.ledger,
		Scheduler: a.sched,
		Audit:     a.audit,
		Clock:     a.clock,
		Logger:    root,
	}
	mod := moderation.New(deps, ad)
	greet := greeting.New(deps, ad)
	a.features = []feature.Feature{
		reminder.New(deps, ad),
		mod,
		utility.New(deps),
		greet,
	}
	var cmds []router.Command
	for _, f := range a.features {
		f.RegisterHandlers(a.registry)
		cmds = append(cmds, f.Commands()...)
	}
	a.cmdm.OnMemberJoin(mod.OnMemberJoin)
	a.cmdm.OnMemberJoin(greet.OnMemberJoin)
	a.cmdm.OnMessage(greet.OnMessage)
	a.commands = cmds

	oc, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	a.ops = ops.New(oc, ops.Sources{
		Ready:     a.ready.Load,
		Storage:   a.store,
		Tasks:     a.ledger,
		Scheduler: a.sched.Snapshot,
		Engine:    a.engine.Snapshot,
		Events:    a.events.Counts,
		Now:       a.clock.Now,
	}, root)

	log.Debug("app built",
		logx.String("storage", string(a.store.Dialect())),
		logx.Int("commands", len(cmds)),
		logx.Any("handlers", a.registry.Refs()),
	)
	return a, nil
}

// abort releases what New already opened.
func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Ready reports whether startup recovery finished and commands are served.
func (a *App) Ready() bool { return a.ready.Load() }

// Start runs recovery before polling starts, so due rows fire before any new
// command can schedule more.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		return a.checkReloadable(cfg)
	})

	a.sup.Go0("events.record", func(c context.Context) { a.events.Run(c, a.bus) })

	a.engine.Start(runCtx)
	if err := a.startTasks(runCtx); err != nil {
		a.sup.Cancel()
		return err
	}

	// SetRegistry pushes the command menu, so it waits for the supervisor.
	a.cmdm.SetMenuSupervisor(a.sup)
	a.cmdm.SetRegistry(a.commands)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("adapter start: %w", err)
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.ops.Start(runCtx)

	cfgCh := a.cfgm.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(cfgCh)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-cfgCh:
				if !ok {
					return
				}
				a.applyConfig(c, next)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.ready.Store(true)
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// Done is closed when a supervised loop failed and the app should stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err is the first error that cancelled the app, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) currentConfig() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// checkReloadable rejects changes that need a restart.
func (a *App) checkReloadable(next *config.Config) error {
	cur := a.currentConfig()
	var errs []error
	if cur.Bot.Token != next.Bot.Token {
		errs = append(errs, errors.New("bot.token cannot change without a restart"))
	}
	if cur.Storage != next.Storage {
		errs = append(errs, errors.New("storage cannot change without a restart"))
	}
	if cur.TaskEngineEnabled() && !next.TaskEngineEnabled() {
		errs = append(errs, errors.New("task_engine.enabled cannot be turned off while running"))
	}
	return errors.Join(errs...)
}

// startTasks replays the ledger and then starts the scheduler's cron, so the
// reconcile sweep never sees rows recovery has not reached yet.
func (a *App) startTasks(ctx context.Context) error {
	if err := a.applyAuditPrune(a.currentConfig()); err != nil {
		a.log.Warn("audit prune not scheduled", logx.Err(err))
	}

	rep, err := a.recovery.Run(ctx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	a.log.Info("recovery finished",
		logx.Int("due", rep.Due),
		logx.Int("fired", rep.Fired),
		logx.Int("failed", rep.Failed),
		logx.Int("rearmed", rep.Rearmed),
	)
	a.sched.Start(ctx)
	return nil
}

func (a *App) applyAuditPrune(cfg *config.Config) error {
	retention, spec, err := auditPrune(cfg)
	if err != nil {
		return err
	}
	if retention <= 0 {
		a.sched.RemoveJob(auditPruneJob)
		return nil
	}
	return a.sched.AddJob(auditPruneJob, spec, time.Minute, a.audit.PruneJob(retention))
}

// applyConfig fans a validated reload out to the live components. A section
// that fails to map keeps its previous settings.
func (a *App) applyConfig(ctx context.Context, next *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next
	a.mu.Unlock()

	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config applied (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] || changed["bot"] {
		if chatID, ok, err := parseChatID(next.Bot.LogChat); err != nil {
			a.log.Warn("log chat ignored", logx.Err(err))
		} else if ok {
			a.logs.SetChatTarget(chatID, next.Logging.Chat.ThreadID)
		}
		a.logs.Apply(mapLogConfig(next))
	}

	if changed["bot"] {
		a.cmdm.SetOwners(next.Bot.OwnerUserIDs)
	}
	if changed["commands"] || changed["bot"] {
		if p, err := mapCommandPolicy(next); err != nil {
			a.log.Warn("invalid commands config; keeping previous", logx.Err(err))
		} else {
			a.cmdm.Apply(p)
		}
	}

	if changed["task_engine"] {
		if ec, err := mapTaskEngineConfig(next); err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			a.engine.Apply(ctx, ec)
		}
	}
	if changed["scheduler"] {
		if sc, err := mapSchedulerConfig(next); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
		}
	}
	if changed["audit"] {
		if err := a.applyAuditPrune(next); err != nil {
			a.log.Warn("invalid audit config; keeping previous", logx.Err(err))
		}
	}
	if changed["ops"] {
		if oc, err := mapOpsConfig(next); err != nil {
			a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
		} else {
			a.ops.Reconfigure(ctx, oc)
		}
	}
	if changed["recovery"] || changed["storage"] {
		a.log.Info("some changes apply on next restart", logx.String("sections", "recovery,storage"))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.ready.Store(false)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// Each step is bounded so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	// Timers are disarmed; the rows stay in the ledger for the next start.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
