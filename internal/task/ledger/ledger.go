// Package ledger is the durable record of pending deferred tasks. A row
// exists exactly while its task is pending; deleting it is how a task
// completes or is cancelled.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mycelium/internal/metrics"
	"mycelium/internal/storage"
	"mycelium/internal/task"
	"mycelium/internal/task/clock"
	logx "mycelium/pkg/logx"

	"github.com/google/uuid"
)

const columns = `id, guild_scope, requester_id, target_id, action_kind, handler, payload, created_at, due_at`

type Ledger struct {
	store storage.Store
	clock clock.Clock
	log   logx.Logger
}

func New(store storage.Store, clk clock.Clock, log logx.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{store: store, clock: clk, log: log.With(logx.String("comp", "ledger"))}
}

func newID() string { return "tsk_" + uuid.NewString() }

// Insert stores a new pending task. The ledger assigns ID and CreatedAt and
// derives DueAt = CreatedAt + in.Delay seconds.
func (l *Ledger) Insert(ctx context.Context, in task.Input) (task.DeferredTask, error) {
	if in.Delay <= 0 || in.Delay > task.MaxDelay {
		return task.DeferredTask{}, task.ErrInvalidDelay
	}
	if strings.TrimSpace(in.Kind) == "" {
		return task.DeferredTask{}, fmt.Errorf("ledger insert: action kind is required")
	}
	if in.Handler.IsZero() {
		return task.DeferredTask{}, fmt.Errorf("ledger insert: handler ref is required")
	}
	payload, err := task.EncodePayload(in.Payload)
	if err != nil {
		return task.DeferredTask{}, fmt.Errorf("ledger insert: encode payload: %w", err)
	}

	// Millisecond precision is what the store keeps.
	created := l.clock.Now().Truncate(time.Millisecond)
	t := task.DeferredTask{
		ID:          newID(),
		GuildScope:  in.GuildScope,
		RequesterID: in.RequesterID,
		TargetID:    in.TargetID,
		Kind:        in.Kind,
		Handler:     task.HandlerRef{Module: in.Handler.Module, Function: in.Handler.Function},
		Payload:     in.Payload,
		CreatedAt:   created,
		DueAt:       created.Add(time.Duration(in.Delay) * time.Second),
	}
	if t.Payload == nil {
		t.Payload = task.Payload{}
	}

	_, err = l.store.Exec(ctx,
		`INSERT INTO deferred_tasks(`+columns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		t.ID, nullable(t.GuildScope), t.RequesterID, t.TargetID, t.Kind, t.Handler.String(), payload,
		t.CreatedAt.UnixMilli(), t.DueAt.UnixMilli(),
	)
	metrics.LedgerOps.WithLabelValues("insert", metrics.Result(err)).Inc()
	if err != nil {
		return task.DeferredTask{}, &task.StorageError{Op: "insert", Err: err}
	}
	l.log.Debug("task stored", logx.Task(t.ID, t.Kind), logx.Time("due_at", t.DueAt))
	return t, nil
}

// Get returns the task with id or task.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (task.DeferredTask, error) {
	return l.one(ctx, "get", `SELECT `+columns+` FROM deferred_tasks WHERE id = ?`, id)
}

// MostRecentByKind returns the newest task of kind or task.ErrNotFound. Used
// when a handler ref carries no task id.
func (l *Ledger) MostRecentByKind(ctx context.Context, kind string) (task.DeferredTask, error) {
	return l.one(ctx, "most_recent",
		`SELECT `+columns+` FROM deferred_tasks WHERE action_kind = ? ORDER BY created_at DESC, seq DESC LIMIT 1`, kind)
}

// DeleteByID removes a task. Deleting a missing id is not an error; the
// returned bool reports whether a row was removed.
func (l *Ledger) DeleteByID(ctx context.Context, id string) (bool, error) {
	n, err := l.store.Exec(ctx, `DELETE FROM deferred_tasks WHERE id = ?`, id)
	metrics.LedgerOps.WithLabelValues("delete", metrics.Result(err)).Inc()
	if err != nil {
		return false, &task.StorageError{Op: "delete", Err: err}
	}
	return n > 0, nil
}

// AllDue returns tasks with DueAt <= asOf, earliest due first.
func (l *Ledger) AllDue(ctx context.Context, asOf time.Time) ([]task.DeferredTask, error) {
	return l.many(ctx, "all_due",
		`SELECT `+columns+` FROM deferred_tasks WHERE due_at <= ? ORDER BY due_at ASC, seq ASC`, asOf.UnixMilli())
}

// AllPending returns every stored task, earliest due first.
func (l *Ledger) AllPending(ctx context.Context) ([]task.DeferredTask, error) {
	return l.many(ctx, "all_pending", `SELECT `+columns+` FROM deferred_tasks ORDER BY due_at ASC, seq ASC`)
}

// ByTarget returns pending tasks of kind aimed at target within scope.
func (l *Ledger) ByTarget(ctx context.Context, kind, target, scope string) ([]task.DeferredTask, error) {
	if scope == "" {
		return l.many(ctx, "by_target",
			`SELECT `+columns+` FROM deferred_tasks WHERE action_kind = ? AND target_id = ? AND guild_scope IS NULL ORDER BY due_at ASC, seq ASC`,
			kind, target)
	}
	return l.many(ctx, "by_target",
		`SELECT `+columns+` FROM deferred_tasks WHERE action_kind = ? AND target_id = ? AND guild_scope = ? ORDER BY due_at ASC, seq ASC`,
		kind, target, scope)
}

// Count returns the number of pending tasks.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	recs, err := l.store.Query(ctx, `SELECT COUNT(*) AS n FROM deferred_tasks`)
	metrics.LedgerOps.WithLabelValues("count", metrics.Result(err)).Inc()
	if err != nil {
		return 0, &task.StorageError{Op: "count", Err: err}
	}
	if len(recs) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(recs[0]["n"])
	if err != nil {
		return 0, &task.StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func (l *Ledger) one(ctx context.Context, op, q string, args ...any) (task.DeferredTask, error) {
	ts, err := l.many(ctx, op, q, args...)
	if err != nil {
		return task.DeferredTask{}, err
	}
	if len(ts) == 0 {
		return task.DeferredTask{}, task.ErrNotFound
	}
	return ts[0], nil
}

func (l *Ledger) many(ctx context.Context, op, q string, args ...any) ([]task.DeferredTask, error) {
	recs, err := l.store.Query(ctx, q, args...)
	metrics.LedgerOps.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		return nil, &task.StorageError{Op: op, Err: err}
	}
	out := make([]task.DeferredTask, 0, len(recs))
	for _, r := range recs {
		t, err := decode(r)
		if err != nil {
			// A corrupt row must not hide the rest of the ledger.
			l.log.Warn("skipping unreadable task row", logx.String("id", r["id"]), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func decode(r storage.Record) (task.DeferredTask, error) {
	created, err := strconv.ParseInt(r["created_at"], 10, 64)
	if err != nil {
		return task.DeferredTask{}, fmt.Errorf("created_at: %w", err)
	}
	due, err := strconv.ParseInt(r["due_at"], 10, 64)
	if err != nil {
		return task.DeferredTask{}, fmt.Errorf("due_at: %w", err)
	}
	ref, err := task.ParseHandlerRef(r["handler"])
	if err != nil {
		return task.DeferredTask{}, err
	}
	payload, err := task.DecodePayload(r["payload"])
	if err != nil {
		return task.DeferredTask{}, fmt.Errorf("payload: %w", err)
	}
	return task.DeferredTask{
		ID:          r["id"],
		GuildScope:  r["guild_scope"],
		RequesterID: r["requester_id"],
		TargetID:    r["target_id"],
		Kind:        r["action_kind"],
		Handler:     ref,
		Payload:     payload,
		CreatedAt:   time.UnixMilli(created),
		DueAt:       time.UnixMilli(due),
	}, nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
