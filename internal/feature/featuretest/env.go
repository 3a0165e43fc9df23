// Package featuretest wires a real ledger, audit log, bridge and scheduler
// on a temporary SQLite file with a manual clock.
package featuretest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mycelium/internal/audit"
	"mycelium/internal/feature"
	"mycelium/internal/storage"
	"mycelium/internal/task/bridge"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/engine"
	"mycelium/internal/task/ledger"
	"mycelium/internal/task/scheduler"
	kit "mycelium/internal/transport"
	"mycelium/internal/transport/telegram/router"
	"mycelium/internal/transport/transporttest"
	logx "mycelium/pkg/logx"
)

// Start is the manual clock's initial instant.
var Start = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

type Env struct {
	Store     storage.Store
	Clock     *clock.Manual
	Ledger    *ledger.Ledger
	Audit     *audit.Log
	Registry  *bridge.Registry
	Scheduler *scheduler.Service
	Adapter   *transporttest.Adapter
	Deps      feature.Deps
}

// inlineEngine runs fire work on the timer callback so clock advances are
// deterministic.
type inlineEngine struct{}

func (inlineEngine) Enqueue(t engine.Task) error {
	err := t.Run(context.Background())
	if t.OnDone != nil {
		t.OnDone(err, 1)
	}
	return nil
}

func New(t *testing.T) *Env {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewManual(Start)
	led := ledger.New(st, clk, logx.Nop())
	reg := bridge.NewRegistry(logx.Nop())
	sched := scheduler.New(scheduler.Config{}, reg, inlineEngine{}, logx.Nop(), scheduler.WithClock(clk), scheduler.WithSource(led))
	aud := audit.New(st, clk, logx.Nop())

	return &Env{
		Store:     st,
		Clock:     clk,
		Ledger:    led,
		Audit:     aud,
		Registry:  reg,
		Scheduler: sched,
		Adapter:   transporttest.New(),
		Deps: feature.Deps{
			Ledger:    led,
			Scheduler: sched,
			Audit:     aud,
			Clock:     clk,
			Logger:    logx.Nop(),
		},
	}
}

// Request builds a group command request from user from in chat -100.
func (e *Env) Request(from int64, args ...string) *router.Request {
	return &router.Request{
		Update:    kit.Update{Kind: kit.UpdateMessage},
		Chat:      kit.ChatTarget{ChatID: -100},
		FromID:    from,
		MessageID: 1,
		IsGroup:   true,
		Args:      args,
		RawArgs:   strings.Join(args, " "),
		ReqID:     "test",
		Adapter:   e.Adapter,
		Logger:    logx.Nop(),
	}
}

// Run finds route among cmds and calls it with req.
func Run(t *testing.T, cmds []router.Command, route string, req *router.Request) error {
	t.Helper()
	for _, c := range cmds {
		if c.Route == route {
			req.Command = route
			return c.Handle(context.Background(), req)
		}
	}
	t.Fatalf("command %q not registered", route)
	return nil
}
