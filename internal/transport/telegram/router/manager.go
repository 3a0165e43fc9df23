package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"mycelium/internal/metrics"
	"mycelium/internal/runtime/supervisor"
	kit "mycelium/internal/transport"
	logx "mycelium/pkg/logx"
)

type Manager struct {
	mu sync.RWMutex

	cmds     map[string]*Command // route -> command
	alias    map[string]string   // alias -> route
	ordered  []Command
	owners   []int64
	policy   Policy
	disabled map[string]bool
	joins    []MemberHandler
	texts    []MessageHandler

	lim *limiter
	now func() time.Time

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	menuSup *supervisor.Supervisor

	workers int
	jobs    chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		cmds:     map[string]*Command{},
		alias:    map[string]string{},
		owners:   append([]int64(nil), owners...),
		policy:   Policy{}.withDefaults(),
		disabled: map[string]bool{},
		lim:      newLimiter(),
		now:      time.Now,
		log:      log.With(logx.String("comp", "router")),
		adapter:  adapter,
		jobs:     make(chan func(), 256),
	}
	return m
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Manager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

// Apply swaps the policy in place. Buckets survive unless the rate changed.
func (m *Manager) Apply(p Policy) {
	p = p.withDefaults()
	dis := make(map[string]bool, len(p.Disabled))
	for _, d := range p.Disabled {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, p.Prefix)))
		if d != "" {
			dis[d] = true
		}
	}
	m.mu.Lock()
	m.policy = p
	m.disabled = dis
	m.mu.Unlock()
	m.lim.configure(p.PerUserPerMinute, p.Cooldown)
}

func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// SetMenuSupervisor lets menu updates run under a supervisor that is
// cancelled on shutdown.
func (m *Manager) SetMenuSupervisor(sup *supervisor.Supervisor) {
	m.runMu.Lock()
	m.menuSup = sup
	m.runMu.Unlock()
}

// OnMemberJoin registers h for member join updates.
func (m *Manager) OnMemberJoin(h MemberHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.joins = append(m.joins, h)
	m.mu.Unlock()
}

// OnMessage registers h for non-command messages.
func (m *Manager) OnMessage(h MessageHandler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.texts = append(m.texts, h)
	m.mu.Unlock()
}

// SetRegistry replaces the command set. help is always injected.
func (m *Manager) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args, req.IsOwner()))
		},
	}
	cmds = append(append([]Command(nil), cmds...), helper)

	byRoute := map[string]*Command{}
	alias := map[string]string{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := strings.ToLower(strings.TrimSpace(c.Route))
		if route == "" || strings.ContainsAny(route, " \t") || c.Handle == nil {
			m.log.Warn("command skipped", logx.String("route", c.Route))
			continue
		}
		if _, dup := byRoute[route]; dup {
			m.log.Warn("duplicate command route; last one wins", logx.String("route", route))
		}
		cc := c
		cc.Route = route
		byRoute[route] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || a == route || strings.Contains(a, " ") {
				continue
			}
			alias[a] = route
		}
	}
	for _, c := range byRoute {
		ordered = append(ordered, *c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Route < ordered[j].Route })

	m.mu.Lock()
	m.cmds = byRoute
	m.alias = alias
	m.ordered = ordered
	m.mu.Unlock()

	m.updateMenu(ordered)
}

func (m *Manager) updateMenu(cmds []Command) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenuCommands(cmds)
	run := func(parent context.Context) error {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("command menu update failed", logx.Err(err))
		}
		return nil
	}

	m.runMu.Lock()
	sup := m.menuSup
	m.runMu.Unlock()
	if sup != nil {
		sup.Go("router.menu.update", run)
		return
	}
	go func() { _ = run(context.Background()) }()
}

// Commands lists the registered commands sorted by route.
func (m *Manager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.ordered...)
}

func (m *Manager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return *c, true
	}
	if r, ok := m.alias[word]; ok {
		if c, ok := m.cmds[r]; ok {
			return *c, true
		}
	}
	return Command{}, false
}

// Supervisor returns the dispatch supervisor (nil if not running).
func (m *Manager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Manager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *Manager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop reads updates until ctx is done or updates is closed. Jobs
// run on a bounded worker pool; a full queue answers "busy".
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 2 {
			workers = 2
		}
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Manager) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateMemberJoin:
		m.routeJoin(ctx, up)
	}
}

func (m *Manager) routeJoin(ctx context.Context, up kit.Update) {
	if up.Member == nil {
		return
	}
	ev := *up.Member
	m.mu.RLock()
	hooks := append([]MemberHandler(nil), m.joins...)
	m.mu.RUnlock()
	for _, h := range hooks {
		h := h
		if !m.tryEnqueue(func() { h(ctx, ev) }) {
			m.log.Warn("member join dropped; queue full", logx.Int64("chat_id", ev.ChatID), logx.Int64("user_id", ev.UserID))
		}
	}
}

func (m *Manager) routeText(ctx context.Context, msg kit.Message) {
	m.mu.RLock()
	hooks := append([]MessageHandler(nil), m.texts...)
	m.mu.RUnlock()
	for _, h := range hooks {
		h := h
		if !m.tryEnqueue(func() { h(ctx, msg) }) {
			m.log.Debug("message hook dropped; queue full", logx.Int64("chat_id", msg.ChatID))
		}
	}
}

func (m *Manager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	pol := m.Policy()
	word, rest, ok := splitCommand(msg.Text, pol.Prefix)
	if !ok {
		m.routeText(ctx, *msg)
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	reply := func(text string) {
		_, _ = m.adapter.SendText(ctx, chat, text, &kit.SendOptions{ReplyTo: msg.ID})
	}

	cmd, found := m.lookup(word)
	if !found {
		// Groups often host other bots; stay quiet there.
		if !msg.IsGroup {
			reply("unknown command. try " + pol.Prefix + "help")
		}
		return
	}

	m.mu.RLock()
	disabled := m.disabled[cmd.Route]
	m.mu.RUnlock()
	if disabled {
		metrics.Commands.WithLabelValues(cmd.Route, "disabled").Inc()
		return
	}

	owners := m.ownersSnapshot()
	owner := isOwner(msg.FromID, owners)
	if cmd.Access == AccessOwnerOnly && !owner {
		metrics.Commands.WithLabelValues(cmd.Route, "denied").Inc()
		reply("unauthorized")
		return
	}
	if !msg.IsGroup {
		if cmd.GroupOnly {
			reply("this command only works in groups")
			return
		}
		if !pol.AllowDM && !owner && cmd.Route != "help" {
			reply("commands are only available in groups")
			return
		}
	}
	if !owner {
		if ok, wait := m.lim.allow(msg.FromID, cmd.Route, m.now()); !ok {
			metrics.Commands.WithLabelValues(cmd.Route, "limited").Inc()
			reply("slow down, try again in " + wait.Round(time.Second).String())
			return
		}
	}

	rid := newReqID()
	req := &Request{
		Update:        up,
		Chat:          chat,
		FromID:        msg.FromID,
		FromUsername:  msg.FromUsername,
		MessageID:     msg.ID,
		ReplyToFromID: msg.ReplyToFromID,
		IsGroup:       msg.IsGroup,
		Command:       cmd.Route,
		Args:          tokenizeCommandLine(rest),
		RawArgs:       rest,
		ReqID:         rid,
		Adapter:       m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
		Owners: owners,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = pol.Timeout
	}
	final := Chain(
		cmd.Handle,
		MWMetrics(),
		MWPanicRecover(m.log),
		MWRequestLog(m.log, pol.LogCommands),
		MWTimeout(timeout),
	)

	job := func() {
		if err := final(ctx, req); err != nil && ctx.Err() == nil {
			reply("command failed (ref " + rid + ")")
		}
	}
	if !m.tryEnqueue(job) {
		metrics.Commands.WithLabelValues(cmd.Route, "busy").Inc()
		reply("busy, try again")
	}
}
