package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
bot:
  token: "123:abc"
  owner_user_ids: [42]
  log_chat: "-1001"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/mycelium.db
scheduler:
  reconcile_schedule: "@every 1m"
  fire_timeout: 30s
task_engine:
  workers: 4
commands:
  disabled: [kick]
  per_user_per_minute: 20
audit:
  retention: 720h
  prune_schedule: "@daily"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, []int64{42}, cfg.Bot.OwnerUserIDs)
	assert.Equal(t, 4, cfg.TaskEngine.Workers)
	assert.True(t, cfg.TaskEngineEnabled())
	assert.Equal(t, []string{"kick"}, cfg.Commands.Disabled)
	assert.Same(t, cfg, m.Get())
}

func TestLoadRejectsUnknownKeysAndTrailingData(t *testing.T) {
	t.Parallel()

	_, err := NewManager(writeFile(t, "config.yaml", sampleYAML+"plugins: {}\n")).Load()
	assert.Error(t, err)

	_, err = NewManager(writeFile(t, "config.json", `{"bot":{"token":"x"},"storage":{"path":"a.db"}} {}`)).Load()
	assert.ErrorContains(t, err, "trailing data")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.json", []byte(`{"bot":{"token":"x"},"storage":{"driver":"postgres"},"scheduler":{"fire_timeout":"soon"}}`))
	require.NoError(t, err)

	err = Validate(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "storage.dsn")
	assert.ErrorContains(t, err, "scheduler.fire_timeout")

	cfg.Storage.DSN = "postgres://localhost/mycelium"
	cfg.Scheduler.FireTimeout = "45s"
	assert.NoError(t, Validate(cfg))
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)

	d, err = ParseDurationField("audit.retention", "90d")
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, d)

	d, err = ParseDurationField("audit.retention", "1d 12h")
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	d, err = ParseDurationField("audit.retention", "0s")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("audit.retention", "soon")
	assert.ErrorContains(t, err, "audit.retention")
}

func TestSummarizeChangeHidesTokens(t *testing.T) {
	t.Parallel()

	a, err := Decode("a.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("b.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	sections, _ := SummarizeChange(a, b)
	assert.Empty(t, sections)

	b.Bot.Token = "999:zzz"
	b.Commands.PerUserPerMinute = 5
	b.Ops.Token = "secret"
	sections, _ = SummarizeChange(a, b)
	assert.Equal(t, []string{"bot", "commands", "ops"}, sections)
}

func TestMarshalYAMLRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := Decode("a.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	out, err := MarshalYAML(a)
	require.NoError(t, err)

	b, err := Decode("b.yaml", out)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSubscribeGetsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.yaml")
	ch := m.Subscribe(1)

	m.publish(&Config{Bot: BotConfig{Token: "1"}})
	m.publish(&Config{Bot: BotConfig{Token: "2"}})
	got := <-ch
	assert.Equal(t, "2", got.Bot.Token)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
