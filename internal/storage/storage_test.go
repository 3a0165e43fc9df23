package storage

import (
	"context"
	"path/filepath"
	"testing"

	logx "mycelium/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteExecQuery(t *testing.T) {
	t.Parallel()
	st := openTemp(t)
	ctx := context.Background()

	assert.Equal(t, DialectSQLite, st.Dialect())
	require.NoError(t, st.Ping(ctx))

	n, err := st.Exec(ctx,
		`INSERT INTO audit_log(id, at, guild_scope, actor_id, target_id, action, reason) VALUES(?,?,?,?,?,?,?)`,
		"a1", int64(10), nil, "42", "7", "ban", "spam")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err := st.Query(ctx, `SELECT id, at, guild_scope, actor_id, action FROM audit_log WHERE actor_id = ?`, "42")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a1", recs[0]["id"])
	assert.Equal(t, "10", recs[0]["at"])
	assert.Equal(t, "ban", recs[0]["action"])
	_, hasScope := recs[0]["guild_scope"]
	assert.False(t, hasScope, "NULL columns are omitted")
}

func TestSQLiteRejectsTaskDueBeforeCreated(t *testing.T) {
	t.Parallel()
	st := openTemp(t)

	_, err := st.Exec(context.Background(),
		`INSERT INTO deferred_tasks(id, requester_id, target_id, action_kind, handler, created_at, due_at) VALUES(?,?,?,?,?,?,?)`,
		"t1", "1", "2", "reminder", "reminder:deliver", int64(100), int64(50))
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"SELECT 1", "SELECT 1"},
		{"DELETE FROM t WHERE id = ?", "DELETE FROM t WHERE id = $1"},
		{"INSERT INTO t VALUES(?,?,?)", "INSERT INTO t VALUES($1,$2,$3)"},
		{"SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
	}
	for _, tt := range tests {
		if got := Rebind(tt.in); got != tt.want {
			t.Fatalf("Rebind(%q) got=%q want=%q", tt.in, got, tt.want)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()
	got := splitStatements("-- c\nCREATE TABLE a (x INT);\n\n-- d\nCREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, got)
}
