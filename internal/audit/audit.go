// Package audit is the append-only moderation log. It shares the record
// store with the task ledger but lives in its own table; pending work is
// never read from here.
package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mycelium/internal/metrics"
	"mycelium/internal/storage"
	"mycelium/internal/task/clock"
	logx "mycelium/pkg/logx"
)

// Actions written by the bot.
const (
	ActionBan        = "ban"
	ActionKick       = "kick"
	ActionTimeout    = "timeout"
	ActionTempBan    = "temp-ban"
	ActionUnban      = "unban"
	ActionAutoUnban  = "auto-unban"
	ActionManualLog  = "manual-log"
	ActionMemberJoin = "member-join"
	ActionReminder   = "reminder"
)

type Entry struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	GuildScope string    `json:"guild_scope,omitempty"`
	ActorID    string    `json:"actor_id"`
	TargetID   string    `json:"target_id,omitempty"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
}

type Log struct {
	store storage.Store
	clock clock.Clock
	log   logx.Logger
}

func New(store storage.Store, clk clock.Clock, log logx.Logger) *Log {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{store: store, clock: clk, log: log.With(logx.String("comp", "audit"))}
}

// Append stores e. ID and At are filled in when empty.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return Entry{}, fmt.Errorf("audit: action required")
	}
	if strings.TrimSpace(e.ActorID) == "" {
		return Entry{}, fmt.Errorf("audit: actor required")
	}
	if e.ID == "" {
		e.ID = "aud_" + uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = l.clock.Now()
	}
	e.At = e.At.Truncate(time.Millisecond)

	_, err := l.store.Exec(ctx,
		`INSERT INTO audit_log (id, at, guild_scope, actor_id, target_id, action, reason) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UnixMilli(), nullable(e.GuildScope), e.ActorID, nullable(e.TargetID), e.Action, nullable(e.Reason),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("audit append: %w", err)
	}
	metrics.AuditEntries.WithLabelValues(e.Action).Inc()
	l.log.Debug("audit entry", logx.String("action", e.Action), logx.String("actor", e.ActorID), logx.String("target", e.TargetID))
	return e, nil
}

// Recent returns up to limit entries for scope, newest first. An empty scope
// lists every scope.
func (l *Log) Recent(ctx context.Context, scope string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT id, at, guild_scope, actor_id, target_id, action, reason FROM audit_log`
	args := []any{}
	if scope != "" {
		q += ` WHERE guild_scope = ?`
		args = append(args, scope)
	}
	q += ` ORDER BY at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	recs, err := l.store.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit recent: %w", err)
	}
	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		ms, err := strconv.ParseInt(r["at"], 10, 64)
		if err != nil {
			l.log.Warn("skipping unreadable audit row", logx.String("id", r["id"]), logx.Err(err))
			continue
		}
		out = append(out, Entry{
			ID:         r["id"],
			At:         time.UnixMilli(ms),
			GuildScope: r["guild_scope"],
			ActorID:    r["actor_id"],
			TargetID:   r["target_id"],
			Action:     r["action"],
			Reason:     r["reason"],
		})
	}
	return out, nil
}

// Prune deletes entries older than before and reports how many went.
func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := l.store.Exec(ctx, `DELETE FROM audit_log WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit prune: %w", err)
	}
	if n > 0 {
		l.log.Info("audit log pruned", logx.Int64("removed", n), logx.Time("before", before))
	}
	return n, nil
}

// PruneJob returns a housekeeping job removing entries older than retention.
func (l *Log) PruneJob(retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if retention <= 0 {
			return nil
		}
		_, err := l.Prune(ctx, l.clock.Now().Add(-retention))
		return err
	}
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
