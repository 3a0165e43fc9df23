package utility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelium/internal/feature"
	"mycelium/internal/feature/featuretest"
	"mycelium/internal/task"
	kit "mycelium/internal/transport"
)

func schedule(t *testing.T, env *featuretest.Env, requester string, delay int64) task.DeferredTask {
	t.Helper()
	tk, err := feature.Schedule(context.Background(), env.Deps, task.Input{
		GuildScope:  "-100",
		RequesterID: requester,
		TargetID:    task.TargetReminder,
		Kind:        task.KindReminder,
		Handler:     task.HandlerRef{Module: "reminder", Function: "deliver"},
		Payload:     task.Payload{"text": "x"},
		Delay:       delay,
	})
	require.NoError(t, err)
	return tk
}

func TestPing(t *testing.T) {
	env := featuretest.New(t)
	f := New(env.Deps)
	env.Clock.Advance(90 * time.Second)

	require.NoError(t, featuretest.Run(t, f.Commands(), "ping", env.Request(5)))
	assert.Equal(t, "pong (up 1 minute, 30 seconds)", env.Adapter.LastText())
}

func TestTasksListsRemaining(t *testing.T) {
	env := featuretest.New(t)
	f := New(env.Deps)

	require.NoError(t, featuretest.Run(t, f.Commands(), "tasks", env.Request(1)))
	assert.Equal(t, "No pending tasks.", env.Adapter.LastText())

	a := schedule(t, env, "42", 3600)
	schedule(t, env, "42", 60)
	env.Clock.Advance(30 * time.Second)

	require.NoError(t, featuretest.Run(t, f.Commands(), "tasks", env.Request(1)))
	out := env.Adapter.LastText()
	assert.Contains(t, out, "2 pending task(s)")
	assert.Contains(t, out, a.ID+"  reminder  target=REMINDER_TASK  in 59 minutes, 30 seconds")
	assert.Contains(t, out, "in 30 seconds")
}

func TestCancelOwnTaskOnly(t *testing.T) {
	env := featuretest.New(t)
	f := New(env.Deps)
	ctx := context.Background()

	tk := schedule(t, env, "42", 3600)

	req := env.Request(7, tk.ID)
	req.Owners = []int64{1}
	require.NoError(t, featuretest.Run(t, f.Commands(), "cancel", req))
	assert.Equal(t, "You can only cancel your own tasks.", env.Adapter.LastText())
	assert.True(t, env.Scheduler.IsArmed(tk.ID))

	require.NoError(t, featuretest.Run(t, f.Commands(), "cancel", env.Request(42, tk.ID)))
	assert.Equal(t, "Cancelled "+tk.ID+" (reminder).", env.Adapter.LastText())
	assert.False(t, env.Scheduler.IsArmed(tk.ID))

	_, err := env.Ledger.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)

	require.NoError(t, featuretest.Run(t, f.Commands(), "cancel", env.Request(42, tk.ID)))
	assert.Equal(t, "No pending task "+tk.ID+".", env.Adapter.LastText())
}

func TestScheduleRejectsNonPositiveDelay(t *testing.T) {
	env := featuretest.New(t)
	_, err := feature.Schedule(context.Background(), env.Deps, task.Input{Kind: task.KindReminder, Delay: 0})
	assert.ErrorIs(t, err, task.ErrInvalidDelay)

	rows, err := env.Ledger.AllPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUserInfo(t *testing.T) {
	env := featuretest.New(t)
	f := New(env.Deps)
	env.Adapter.Members = map[int64]kit.MemberInfo{
		5:  {UserID: 5, FirstName: "Ana", Username: "ana", Status: "administrator", Title: "<mod>"},
		77: {UserID: 77, FirstName: "Bo", Status: "restricted", Until: featuretest.Start.Add(time.Hour)},
	}

	require.NoError(t, featuretest.Run(t, f.Commands(), "userinfo", env.Request(5)))
	out := env.Adapter.LastText()
	assert.Contains(t, out, `<a href="tg://user?id=5">Ana</a>`)
	assert.Contains(t, out, "Username: @ana")
	assert.Contains(t, out, "<code>5</code>")
	assert.Contains(t, out, "Title: &lt;mod&gt;")
	assert.Equal(t, "HTML", env.Adapter.Sent()[0].Opt.ParseMode)

	req := env.Request(5)
	req.ReplyToFromID = 77
	require.NoError(t, featuretest.Run(t, f.Commands(), "userinfo", req))
	assert.Contains(t, env.Adapter.LastText(), "Restricted until: 2024-03-10 10:00 UTC")

	require.NoError(t, featuretest.Run(t, f.Commands(), "userinfo", env.Request(5, "404")))
	assert.Equal(t, "Could not find member 404 in this chat.", env.Adapter.LastText())
}
