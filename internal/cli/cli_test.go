package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelium/internal/storage"
	"mycelium/internal/task"
	"mycelium/internal/task/clock"
	"mycelium/internal/task/ledger"
	logx "mycelium/pkg/logx"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRoot()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "bot.db")
	cfgPath = filepath.Join(dir, "config.json")
	body, err := json.Marshal(map[string]any{
		"bot":     map[string]any{"token": "x"},
		"storage": map[string]any{"driver": "sqlite", "path": dbPath},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, body, 0o600))
	return cfgPath, dbPath
}

func TestDurationCmd(t *testing.T) {
	out, err := execute(t, "duration", "1h30m")
	require.NoError(t, err)
	assert.Equal(t, "5400 seconds (1 hour, 30 minutes)\n", out)

	_, err = execute(t, "duration", "soon")
	assert.Error(t, err)
}

func TestMigrateCmd(t *testing.T) {
	cfg, db := writeConfig(t)
	out, err := execute(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite")
	assert.FileExists(t, db)
}

func TestTasksListAndCancel(t *testing.T) {
	cfg, db := writeConfig(t)

	out, err := execute(t, "--config", cfg, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending tasks.")

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: db}, logx.Nop())
	require.NoError(t, err)
	row, err := ledger.New(st, clock.Real(), logx.Nop()).Insert(context.Background(), task.Input{
		GuildScope:  "-100",
		RequesterID: "1",
		TargetID:    "42",
		Kind:        task.KindScheduledUnban,
		Handler:     task.HandlerRef{Module: "moderation", Function: "unban"},
		Delay:       3600,
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err = execute(t, "--config", cfg, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, row.ID)
	assert.Contains(t, out, "moderation:unban")
	assert.Regexp(t, `59 minutes|1 hour`, out)

	out, err = execute(t, "--config", cfg, "tasks", "cancel", row.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled "+row.ID)

	_, err = execute(t, "--config", cfg, "tasks", "cancel", row.ID)
	assert.Error(t, err)
}
