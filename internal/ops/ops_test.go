package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelium/internal/task"
	"mycelium/internal/task/engine"
	logx "mycelium/pkg/logx"
)

type fakeTasks []task.DeferredTask

func (f fakeTasks) AllPending(context.Context) ([]task.DeferredTask, error) { return f, nil }

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

var now = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	ready := false
	src := Sources{
		Ready:   func() bool { return ready },
		Storage: pingFunc(func(context.Context) error { return nil }),
		Tasks: fakeTasks{{
			ID: "tsk_1", Kind: task.KindReminder, TargetID: task.TargetReminder, RequesterID: "42",
			Handler: task.HandlerRef{Module: "reminder", Function: "deliver"},
			DueAt:   now.Add(90 * time.Second),
		}},
		Engine: func() engine.Snapshot { return engine.Snapshot{Enabled: true, Workers: 2} },
		Now:    func() time.Time { return now },
	}
	h := NewRouter(Config{}, src, logx.Nop())

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz", "").Code)
	ready = true
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz", "").Code)

	rec := get(t, h, "/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Pending []pendingTask `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Pending, 1)
	assert.Equal(t, "reminder:deliver", body.Pending[0].Handler)
	assert.Equal(t, int64(90), body.Pending[0].Remaining)

	assert.Equal(t, http.StatusOK, get(t, h, "/engine", "").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/scheduler", "").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/", "").Code)

	rec = get(t, h, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestReadyzReportsStorage(t *testing.T) {
	t.Parallel()

	h := NewRouter(Config{}, Sources{Storage: pingFunc(func(context.Context) error { return errors.New("db locked") })}, logx.Nop())
	rec := get(t, h, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db locked")
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	h := NewRouter(Config{Token: "s3cret", Pprof: true}, Sources{}, logx.Nop())

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", "").Code, "liveness stays open")
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/readyz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/readyz", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz", "s3cret").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz?token=s3cret", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/debug/pprof/", "").Code)
}

func TestServiceStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
	assert.Nil(t, s.Supervisor())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
}
