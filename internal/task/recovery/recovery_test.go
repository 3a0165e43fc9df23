package recovery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelium/internal/eventbus"
	"mycelium/internal/storage"
	"mycelium/internal/task"
	"mycelium/internal/task/bridge"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/engine"
	"mycelium/internal/task/ledger"
	"mycelium/internal/task/scheduler"
	logx "mycelium/pkg/logx"
)

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

type inlineEngine struct{}

func (inlineEngine) Enqueue(t engine.Task) error {
	err := t.Run(context.Background())
	if t.OnDone != nil {
		t.OnDone(err, 1)
	}
	return nil
}

type fixture struct {
	clk     *clock.Manual
	ledger  *ledger.Ledger
	sched   *scheduler.Service
	effects []string
	failOn  map[string]bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{clk: clock.NewManual(t0), failOn: map[string]bool{}}
	f.ledger = ledger.New(st, f.clk, logx.Nop())
	reg := bridge.NewRegistry(logx.Nop())
	reg.Register("moderation", "unban", bridge.LedgerBound(f.ledger, logx.Nop(), func(_ context.Context, tk task.DeferredTask) error {
		user := tk.Payload.String("user_id")
		if f.failOn[user] {
			return errors.New("bad request: user not found")
		}
		f.effects = append(f.effects, user)
		return nil
	}))
	f.sched = scheduler.New(scheduler.Config{}, reg, inlineEngine{}, logx.Nop(), scheduler.WithClock(f.clk))
	return f
}

// insert writes a row the way a previous process would have, without arming.
func (f *fixture) insert(t *testing.T, delay int64, user string) task.DeferredTask {
	t.Helper()
	tk, err := f.ledger.Insert(context.Background(), task.Input{
		GuildScope:  "-1001",
		RequesterID: "7",
		TargetID:    user,
		Kind:        task.KindScheduledUnban,
		Handler:     task.HandlerRef{Module: "moderation", Function: "unban"},
		Payload:     task.Payload{"user_id": user, "chat_id": "-1001"},
		Delay:       delay,
	})
	require.NoError(t, err)
	return tk
}

func (f *fixture) coordinator(led Ledger) *Coordinator {
	if led == nil {
		led = f.ledger
	}
	return New(Config{Attempts: 3, Backoff: time.Millisecond}, led, f.sched, f.clk, logx.Nop(), eventbus.New())
}

func TestOverdueTaskFiresOnceAndIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.insert(t, 60, "100")
	f.clk.Set(t0.Add(11 * time.Minute)) // due 10 minutes ago, no live timer

	rep, err := f.coordinator(nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 1, Fired: 1}, rep)
	assert.Equal(t, []string{"100"}, f.effects)

	_, err = f.ledger.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)

	f.clk.Advance(time.Hour)
	assert.Len(t, f.effects, 1)
	assert.Empty(t, f.sched.Armed())
}

func TestFutureTaskIsRearmedNotFired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.insert(t, 3600, "200")

	rep, err := f.coordinator(nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Rearmed: 1}, rep)
	assert.Empty(t, f.effects)

	armed := f.sched.Armed()
	require.Len(t, armed, 1)
	assert.Equal(t, tk.ID, armed[0].ID)
	assert.Equal(t, time.Hour, armed[0].DueAt.Sub(f.clk.Now()))

	f.clk.Advance(time.Hour)
	assert.Equal(t, []string{"200"}, f.effects)
}

func TestOverdueReplayIsOldestFirstAndSkipsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, 300, "c")
	bad := f.insert(t, 120, "b")
	f.insert(t, 60, "a")
	f.insert(t, 7200, "future")
	f.failOn["b"] = true
	f.clk.Set(t0.Add(30 * time.Minute))

	rep, err := f.coordinator(nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 3, Fired: 2, Failed: 1, Rearmed: 1}, rep)
	assert.Equal(t, []string{"a", "c"}, f.effects)

	_, err = f.ledger.Get(ctx, bad.ID)
	assert.NoError(t, err, "failed row is kept for the next start")
	n, err := f.ledger.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type flakyLedger struct {
	fails int
	inner Ledger
}

func (l *flakyLedger) AllPending(ctx context.Context) ([]task.DeferredTask, error) {
	if l.fails > 0 {
		l.fails--
		return nil, &task.StorageError{Op: "all_pending", Err: errors.New("database is locked")}
	}
	return l.inner.AllPending(ctx)
}

func TestLoadRetriesStorageErrors(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 3600, "x")

	rep, err := f.coordinator(&flakyLedger{fails: 2, inner: f.ledger}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rearmed)

	_, err = f.coordinator(&flakyLedger{fails: 5, inner: f.ledger}).Run(context.Background())
	assert.ErrorIs(t, err, task.ErrStorage)
}
