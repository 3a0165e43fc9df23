package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelium/internal/storage"
	"mycelium/internal/task"
	"mycelium/internal/task/bridge"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/engine"
	"mycelium/internal/task/ledger"
	logx "mycelium/pkg/logx"
)

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// inlineEngine runs dispatched work on the caller so manual clock advances
// are fully deterministic.
type inlineEngine struct{}

func (inlineEngine) Enqueue(t engine.Task) error {
	err := t.Run(context.Background())
	if t.OnDone != nil {
		t.OnDone(err, 1)
	}
	return nil
}

type countingInvoker struct {
	mu    sync.Mutex
	calls []task.HandlerRef
	err   error
}

func (c *countingInvoker) Invoke(_ context.Context, _ string, ref task.HandlerRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ref)
	return c.err
}

func (c *countingInvoker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestScheduleOnceRejectsNonPositiveDelay(t *testing.T) {
	s := New(Config{}, &countingInvoker{}, inlineEngine{}, logx.Nop(), WithClock(clock.NewManual(t0)))
	ref := task.HandlerRef{Module: "reminder", Function: "deliver"}

	for _, d := range []int64{0, -1, -3600, task.MaxDelay + 1} {
		_, err := s.ScheduleOnce(task.KindReminder, d, ref)
		assert.ErrorIs(t, err, task.ErrInvalidDelay)
	}
	assert.Empty(t, s.Armed())
}

func TestArmedTimerFiresExactlyOnce(t *testing.T) {
	clk := clock.NewManual(t0)
	inv := &countingInvoker{}
	s := New(Config{}, inv, inlineEngine{}, logx.Nop(), WithClock(clk))

	id, err := s.ScheduleOnce(task.KindReminder, 60, task.HandlerRef{Module: "reminder", Function: "deliver"})
	require.NoError(t, err)
	require.True(t, s.IsArmed(id))

	clk.Advance(59 * time.Second)
	assert.Equal(t, 0, inv.count(), "fired before due")

	clk.Advance(time.Second)
	assert.Equal(t, 1, inv.count())
	assert.False(t, s.IsArmed(id))

	clk.Advance(120 * time.Second)
	assert.Equal(t, 1, inv.count())
	assert.Zero(t, clk.Pending())
}

func TestCancelBeforeFire(t *testing.T) {
	clk := clock.NewManual(t0)
	inv := &countingInvoker{}
	s := New(Config{}, inv, inlineEngine{}, logx.Nop(), WithClock(clk))

	id, err := s.ScheduleOnce(task.KindScheduledUnban, 30, task.HandlerRef{Module: "moderation", Function: "unban", TaskID: "tsk_a"})
	require.NoError(t, err)
	assert.Equal(t, "tsk_a", id)

	assert.True(t, s.Cancel(id))
	assert.False(t, s.Cancel(id))

	clk.Advance(time.Hour)
	assert.Equal(t, 0, inv.count())
}

func TestRearmReplacesTimer(t *testing.T) {
	clk := clock.NewManual(t0)
	inv := &countingInvoker{}
	s := New(Config{}, inv, inlineEngine{}, logx.Nop(), WithClock(clk))

	tk := task.DeferredTask{ID: "tsk_b", Kind: task.KindReminder, Handler: task.HandlerRef{Module: "reminder", Function: "deliver"}, DueAt: t0.Add(time.Minute)}
	require.NoError(t, s.Arm(tk))
	tk.DueAt = t0.Add(2 * time.Minute)
	require.NoError(t, s.Arm(tk))
	require.Len(t, s.Armed(), 1)

	clk.Advance(time.Minute)
	assert.Equal(t, 0, inv.count())
	clk.Advance(time.Minute)
	require.Equal(t, 1, inv.count())
	assert.Equal(t, "tsk_b", inv.calls[0].TaskID)
}

func TestArmPastDeadlineFiresOnNextTick(t *testing.T) {
	clk := clock.NewManual(t0)
	inv := &countingInvoker{}
	s := New(Config{}, inv, inlineEngine{}, logx.Nop(), WithClock(clk))

	require.NoError(t, s.Arm(task.DeferredTask{ID: "tsk_late", Kind: task.KindReminder, Handler: task.HandlerRef{Module: "reminder", Function: "deliver"}, DueAt: t0.Add(-time.Hour)}))
	clk.Advance(0)
	assert.Equal(t, 1, inv.count())
}

func TestDisabledEngineStillFires(t *testing.T) {
	clk := clock.NewManual(t0)
	inv := &countingInvoker{}
	eng := engine.New(engine.Config{Enabled: false}, logx.Nop(), nil)
	s := New(Config{}, inv, eng, logx.Nop(), WithClock(clk))

	id, err := s.ScheduleOnce(task.KindReminder, 60, task.HandlerRef{Module: "reminder", Function: "deliver"})
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return inv.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.IsArmed(id))

	clk.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, inv.count())
}

func TestStopToleratesEntryWithoutTimer(t *testing.T) {
	s := New(Config{}, &countingInvoker{}, inlineEngine{}, logx.Nop(), WithClock(clock.NewManual(t0)))

	// the state arm leaves between publishing an entry and storing its timer
	s.tmu.Lock()
	s.armed["tsk_half"] = &armed{kind: task.KindReminder, dueAt: t0.Add(time.Minute), ver: 1}
	s.tmu.Unlock()

	assert.NotPanics(t, func() { s.Stop(context.Background()) })
	assert.Empty(t, s.Armed())

	s.tmu.Lock()
	s.armed["tsk_half"] = &armed{kind: task.KindReminder, dueAt: t0.Add(time.Minute), ver: 2}
	s.tmu.Unlock()
	assert.NotPanics(t, func() {
		require.NoError(t, s.Arm(task.DeferredTask{ID: "tsk_half", Kind: task.KindReminder, Handler: task.HandlerRef{Module: "reminder", Function: "deliver"}, DueAt: t0.Add(time.Hour)}))
	})
}

func TestFireDropsArmedTimer(t *testing.T) {
	clk := clock.NewManual(t0)
	inv := &countingInvoker{}
	s := New(Config{}, inv, inlineEngine{}, logx.Nop(), WithClock(clk))

	tk := task.DeferredTask{ID: "tsk_c", Kind: task.KindReminder, Handler: task.HandlerRef{Module: "reminder", Function: "deliver"}, DueAt: t0.Add(time.Minute)}
	require.NoError(t, s.Arm(tk))
	require.NoError(t, s.Fire(context.Background(), tk))

	clk.Advance(time.Hour)
	assert.Equal(t, 1, inv.count())
}

type ledgerFixture struct {
	clk    *clock.Manual
	ledger *ledger.Ledger
	reg    *bridge.Registry
	sched  *Service

	mu      sync.Mutex
	effects []string
	fail    error
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &ledgerFixture{clk: clock.NewManual(t0)}
	f.ledger = ledger.New(st, f.clk, logx.Nop())
	f.reg = bridge.NewRegistry(logx.Nop())
	f.reg.Register("reminder", "deliver", bridge.LedgerBound(f.ledger, logx.Nop(), func(_ context.Context, tk task.DeferredTask) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail != nil {
			return f.fail
		}
		f.effects = append(f.effects, tk.Payload.String("text"))
		return nil
	}))
	f.sched = New(Config{}, f.reg, inlineEngine{}, logx.Nop(), WithClock(f.clk), WithSource(f.ledger))
	return f
}

func (f *ledgerFixture) insert(t *testing.T, delay int64, text string) task.DeferredTask {
	t.Helper()
	tk, err := f.ledger.Insert(context.Background(), task.Input{
		RequesterID: "42",
		TargetID:    task.TargetReminder,
		Kind:        task.KindReminder,
		Handler:     task.HandlerRef{Module: "reminder", Function: "deliver"},
		Payload:     task.Payload{"text": text},
		Delay:       delay,
	})
	require.NoError(t, err)
	require.NoError(t, f.sched.Arm(tk))
	return tk
}

func TestFireDeletesRowAfterEffect(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	tk := f.insert(t, 600, "stretch")

	f.clk.Advance(10 * time.Minute)
	assert.Equal(t, []string{"stretch"}, f.effects)

	_, err := f.ledger.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestDeletedRowProducesNoEffect(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	tk := f.insert(t, 600, "stretch")

	ok, err := f.ledger.DeleteByID(ctx, tk.ID)
	require.NoError(t, err)
	require.True(t, ok)

	f.clk.Advance(time.Hour)
	assert.Empty(t, f.effects)
	assert.Empty(t, f.sched.Snapshot().Failed)
}

func TestTwoSameKindTasksResolveByID(t *testing.T) {
	f := newLedgerFixture(t)
	f.insert(t, 60, "first")
	f.clk.Advance(time.Second)
	f.insert(t, 30, "second")

	f.clk.Advance(time.Minute)
	assert.Equal(t, []string{"second", "first"}, f.effects)
}

func TestFailedFireKeepsRowAndSkipsReconcile(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.fail = errors.New("telegram down")
	tk := f.insert(t, 60, "stretch")

	f.clk.Advance(time.Minute)
	_, err := f.ledger.Get(ctx, tk.ID)
	require.NoError(t, err, "row must survive a failed fire")
	assert.Equal(t, []string{tk.ID}, f.sched.Snapshot().Failed)

	n, err := f.sched.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// explicit re-arm clears the failed mark
	f.fail = nil
	require.NoError(t, f.sched.Arm(tk))
	f.clk.Advance(0)
	assert.Equal(t, []string{"stretch"}, f.effects)
}

func TestReconcileArmsOrphanedRows(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	tk := f.insert(t, 600, "stretch")
	require.True(t, f.sched.Cancel(tk.ID))

	n, err := f.sched.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.sched.IsArmed(tk.ID))

	n, err = f.sched.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddJobValidatesSpec(t *testing.T) {
	s := New(Config{}, &countingInvoker{}, inlineEngine{}, logx.Nop())
	assert.Error(t, s.AddJob("audit.prune", "not a spec", 0, func(context.Context) error { return nil }))
	require.NoError(t, s.AddJob("audit.prune", "@daily", 0, func(context.Context) error { return nil }))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "audit.prune", snap.Jobs[0].Name)
	assert.False(t, snap.Jobs[0].Next.IsZero())
	assert.True(t, s.RemoveJob("audit.prune"))
}
