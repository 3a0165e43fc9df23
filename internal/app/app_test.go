package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelium/internal/config"
	logx "mycelium/pkg/logx"
)

func TestMapSchedulerConfig(t *testing.T) {
	t.Parallel()

	sc, err := mapSchedulerConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultReconcileSchedule, sc.ReconcileSchedule)
	assert.Equal(t, 30*time.Second, sc.FireTimeout)

	sc, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{ReconcileSchedule: "off", FireTimeout: "5s", Timezone: " UTC "}})
	require.NoError(t, err)
	assert.Empty(t, sc.ReconcileSchedule)
	assert.Equal(t, 5*time.Second, sc.FireTimeout)
	assert.Equal(t, "UTC", sc.Timezone)

	_, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{FireTimeout: "soon"}})
	assert.Error(t, err)
}

func TestMapTaskEngineConfig(t *testing.T) {
	t.Parallel()

	off := false
	ec, err := mapTaskEngineConfig(&config.Config{TaskEngine: config.TaskEngineConfig{
		Enabled:   &off,
		Workers:   4,
		RetryBase: "250ms",
	}})
	require.NoError(t, err)
	assert.False(t, ec.Enabled)
	assert.Equal(t, 4, ec.Workers)
	assert.Equal(t, 3, ec.RetryMax)
	assert.Equal(t, 250*time.Millisecond, ec.RetryBase)

	ec, err = mapTaskEngineConfig(&config.Config{})
	require.NoError(t, err)
	assert.True(t, ec.Enabled)
}

func TestMapCommandPolicy(t *testing.T) {
	t.Parallel()

	p, err := mapCommandPolicy(&config.Config{
		Bot: config.BotConfig{AllowDMCommands: true},
		Commands: config.CommandsConfig{
			Prefix:           "!",
			Disabled:         []string{"/Kick", " ", "ban"},
			PerUserPerMinute: 6,
			Cooldown:         "2s",
			LogCommands:      true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "!", p.Prefix)
	assert.Equal(t, []string{"kick", "ban"}, p.Disabled)
	assert.Equal(t, 6, p.PerUserPerMinute)
	assert.Equal(t, 2*time.Second, p.Cooldown)
	assert.True(t, p.LogCommands)
	assert.True(t, p.AllowDM)

	_, err = mapCommandPolicy(&config.Config{Commands: config.CommandsConfig{Timeout: "-1s"}})
	assert.Error(t, err)
}

func TestAuditPrune(t *testing.T) {
	t.Parallel()

	retention, spec, err := auditPrune(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultAuditRetention, retention)
	assert.Equal(t, defaultPruneSchedule, spec)

	retention, spec, err = auditPrune(&config.Config{Audit: config.AuditConfig{Retention: "0s", PruneSchedule: "0 3 * * *"}})
	require.NoError(t, err)
	assert.Zero(t, retention)
	assert.Equal(t, "0 3 * * *", spec)
}

func TestParseChatID(t *testing.T) {
	t.Parallel()

	id, ok, err := parseChatID(" -1001234 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-1001234), id)

	_, ok, err = parseChatID("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseChatID("@modlog")
	assert.Error(t, err)
}

func TestCheckReloadable(t *testing.T) {
	t.Parallel()

	cur := &config.Config{
		Bot:     config.BotConfig{Token: "a"},
		Storage: config.StorageConfig{Driver: "sqlite", Path: "a.db"},
	}
	a := &App{cfg: cur}

	next := *cur
	next.Commands.PerUserPerMinute = 3
	assert.NoError(t, a.checkReloadable(&next))

	next = *cur
	next.Bot.Token = "b"
	next.Storage.Path = "b.db"
	err := a.checkReloadable(&next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot.token")
	assert.Contains(t, err.Error(), "storage")
}

func TestOpenStorage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "bot:\n  token: \"x\"\nstorage:\n  driver: sqlite\n  path: \"" + filepath.ToSlash(filepath.Join(dir, "bot.db")) + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	st, cfg, err := OpenStorage(path, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.NoError(t, st.Ping(context.Background()))
}
