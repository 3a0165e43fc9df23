// Package feature holds what the chat features share: the ports they use
// and the insert-then-arm helper every deferred command goes through.
package feature

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mycelium/internal/audit"
	"mycelium/internal/task"
	"mycelium/internal/task/bridge"
	"mycelium/internal/transport/telegram/router"
	logx "mycelium/pkg/logx"
)

// Ledger is the task ledger as seen by features.
type Ledger interface {
	bridge.Store
	Insert(ctx context.Context, in task.Input) (task.DeferredTask, error)
	AllPending(ctx context.Context) ([]task.DeferredTask, error)
	ByTarget(ctx context.Context, kind, target, scope string) ([]task.DeferredTask, error)
}

// Scheduler arms and cancels in-memory timers for ledger rows.
type Scheduler interface {
	Arm(t task.DeferredTask) error
	Cancel(id string) bool
}

// Auditor appends to and reads the moderation log.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
	Recent(ctx context.Context, scope string, limit int) ([]audit.Entry, error)
}

// Clock is the time source features use for display.
type Clock interface {
	Now() time.Time
}

type Deps struct {
	Ledger    Ledger
	Scheduler Scheduler
	Audit     Auditor
	Clock     Clock
	Logger    logx.Logger
}

// Feature contributes commands and fire-time handlers.
type Feature interface {
	Name() string
	Commands() []router.Command
	RegisterHandlers(reg *bridge.Registry)
}

// Schedule persists the intent and then arms its timer. The row is written
// first so a crash between the two steps is repaired by recovery.
func Schedule(ctx context.Context, d Deps, in task.Input) (task.DeferredTask, error) {
	if in.Delay <= 0 {
		return task.DeferredTask{}, task.ErrInvalidDelay
	}
	t, err := d.Ledger.Insert(ctx, in)
	if err != nil {
		return task.DeferredTask{}, err
	}
	if err := d.Scheduler.Arm(t); err != nil {
		// The row stays; the reconcile sweep or the next restart arms it.
		d.Logger.Warn("task persisted but not armed", logx.Task(t.ID, t.Kind), logx.Err(err))
	}
	return t, nil
}

// UserID parses a numeric user id, accepting an optional "id:" prefix.
func UserID(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "id:")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return n, nil
}

// FormatID renders ids the way they are stored in the ledger and audit log.
func FormatID(id int64) string { return strconv.FormatInt(id, 10) }

// UserFacing replies to input errors and returns nil for them. Other
// errors are returned so the router logs them and answers with a reference.
func UserFacing(ctx context.Context, req *router.Request, err error) error {
	if err == nil {
		return nil
	}
	if task.IsInputError(err) {
		return req.Reply(ctx, err.Error())
	}
	return err
}
