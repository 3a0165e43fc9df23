// Package moderation implements ban, kick, temp-ban and unban commands, the
// moderation log and the fire-time handler that lifts temporary bans.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mycelium/internal/audit"
	"mycelium/internal/feature"
	"mycelium/internal/task"
	"mycelium/internal/task/bridge"
	kit "mycelium/internal/transport"
	"mycelium/internal/transport/telegram/router"
	"mycelium/pkg/humandur"
	logx "mycelium/pkg/logx"
	"mycelium/pkg/tgui"
)

const (
	Module        = "moderation"
	FunctionUnban = "unban"

	// SystemActor is the audit actor for actions the bot takes on its own.
	SystemActor = "system"

	defaultReason  = "no reason given"
	maxModlog      = 50
	maxReasonShown = 200

	// Telegram treats restrictions over 366 days as permanent.
	maxTimeout = 366 * 24 * time.Hour
)

var unbanRef = task.HandlerRef{Module: Module, Function: FunctionUnban}

// ErrUnsupported means the adapter cannot ban members.
var ErrUnsupported = errors.New("moderation not supported by this transport")

type Feature struct {
	deps feature.Deps
	mod  kit.Moderator
	mute kit.Muter
	log  logx.Logger
}

var _ feature.Feature = (*Feature)(nil)

// New takes the adapter and uses its ban capability when it has one.
func New(deps feature.Deps, adapter kit.Adapter) *Feature {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	mod, _ := adapter.(kit.Moderator)
	mute, _ := adapter.(kit.Muter)
	return &Feature{deps: deps, mod: mod, mute: mute, log: log.With(logx.String("feature", Module))}
}

func (f *Feature) Name() string { return Module }

func (f *Feature) RegisterHandlers(reg *bridge.Registry) {
	reg.Register(Module, FunctionUnban, bridge.LedgerBound(f.deps.Ledger, f.log, f.liftBan))
}

func (f *Feature) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ban",
			Description: "ban a member",
			Usage:       "/ban <user_id> [reason]  (or reply to a message)",
			Access:      router.AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      f.handleBan,
		},
		{
			Route:       "kick",
			Description: "remove a member; they can rejoin",
			Usage:       "/kick <user_id> [reason]  (or reply to a message)",
			Access:      router.AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      f.handleKick,
		},
		{
			Route:       "timeout",
			Aliases:     []string{"mute"},
			Description: "mute a member for a number of minutes",
			Usage:       "/timeout <user_id> <minutes> [reason]  (or reply to a message)",
			Access:      router.AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      f.handleTimeout,
		},
		{
			Route:       "tempban",
			Description: "ban a member for a while",
			Usage:       "/tempban <user_id> <duration> [reason]  (e.g. /tempban 12345 7d spam)",
			Access:      router.AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      f.handleTempBan,
		},
		{
			Route:       "unban",
			Description: "lift a ban and cancel its scheduled unban",
			Usage:       "/unban <user_id>",
			Access:      router.AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      f.handleUnban,
		},
		{
			Route:       "log",
			Description: "add a manual moderation log entry",
			Usage:       "/log <text>",
			Access:      router.AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      f.handleLog,
		},
		{
			Route:       "modlog",
			Description: "show recent moderation actions",
			Usage:       "/modlog [count]",
			Access:      router.AccessOwnerOnly,
			GroupOnly:   true,
			Handle:      f.handleModlog,
		},
	}
}

// OnMemberJoin records joins in the audit log.
func (f *Feature) OnMemberJoin(ctx context.Context, ev kit.MemberEvent) {
	id := feature.FormatID(ev.UserID)
	f.record(ctx, audit.Entry{
		At:         ev.At,
		GuildScope: feature.FormatID(ev.ChatID),
		ActorID:    id,
		TargetID:   id,
		Action:     audit.ActionMemberJoin,
		Reason:     ev.Username,
	})
}

// target resolves the member a command acts on: a numeric id as the first
// argument, else the author of the replied-to message.
func target(req *router.Request) (int64, []string, error) {
	if len(req.Args) > 0 {
		if id, err := feature.UserID(req.Args[0]); err == nil {
			return id, req.Args[1:], nil
		}
	}
	if req.ReplyToFromID != 0 {
		return req.ReplyToFromID, req.Args, nil
	}
	return 0, nil, errors.New("give a numeric user id or reply to one of their messages")
}

func reasonOf(args []string) string {
	r := strings.TrimSpace(strings.Join(args, " "))
	if r == "" {
		return defaultReason
	}
	return r
}

func (f *Feature) record(ctx context.Context, e audit.Entry) {
	if f.deps.Audit == nil {
		return
	}
	if _, err := f.deps.Audit.Append(ctx, e); err != nil {
		f.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func (f *Feature) handleBan(ctx context.Context, req *router.Request) error {
	if f.mod == nil {
		return req.Reply(ctx, ErrUnsupported.Error())
	}
	user, rest, err := target(req)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	reason := reasonOf(rest)
	if err := f.mod.Ban(ctx, req.Chat.ChatID, user, time.Time{}); err != nil {
		return req.Reply(ctx, "failed to ban member: "+err.Error())
	}
	f.record(ctx, audit.Entry{GuildScope: req.Scope(), ActorID: feature.FormatID(req.FromID), TargetID: feature.FormatID(user), Action: audit.ActionBan, Reason: reason})
	return req.Reply(ctx, fmt.Sprintf("Banned %d. Reason: %s", user, reason))
}

func (f *Feature) handleKick(ctx context.Context, req *router.Request) error {
	if f.mod == nil {
		return req.Reply(ctx, ErrUnsupported.Error())
	}
	user, rest, err := target(req)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	reason := reasonOf(rest)
	if err := f.mod.Ban(ctx, req.Chat.ChatID, user, time.Time{}); err != nil {
		return req.Reply(ctx, "failed to kick member: "+err.Error())
	}
	if err := f.mod.Unban(ctx, req.Chat.ChatID, user); err != nil {
		req.Logger.Warn("kick left the member banned", logx.Int64("user_id", user), logx.Err(err))
	}
	f.record(ctx, audit.Entry{GuildScope: req.Scope(), ActorID: feature.FormatID(req.FromID), TargetID: feature.FormatID(user), Action: audit.ActionKick, Reason: reason})
	return req.Reply(ctx, fmt.Sprintf("Kicked %d. Reason: %s", user, reason))
}

// timeoutSpan reads a whole number of minutes, or a duration such as "2h".
func timeoutSpan(arg string) (time.Duration, error) {
	var d time.Duration
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if n <= 0 || n > int64(maxTimeout/time.Minute) {
			return 0, fmt.Errorf("%w: minutes must be between 1 and %d", task.ErrInvalidDuration, int64(maxTimeout/time.Minute))
		}
		d = time.Duration(n) * time.Minute
	} else {
		secs := humandur.Parse(arg)
		if secs <= 0 {
			return 0, fmt.Errorf("%w: give minutes or forms like 45m, 2h", task.ErrInvalidDuration)
		}
		d = time.Duration(secs) * time.Second
	}
	if d < time.Minute || d > maxTimeout {
		return 0, fmt.Errorf("%w: a timeout lasts between 1 minute and 366 days", task.ErrInvalidDuration)
	}
	return d, nil
}

// handleTimeout mutes a member. Telegram lifts the restriction itself, so no
// ledger row is written.
func (f *Feature) handleTimeout(ctx context.Context, req *router.Request) error {
	if f.mute == nil {
		return req.Reply(ctx, ErrUnsupported.Error())
	}
	user, rest, err := target(req)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	if len(rest) == 0 {
		return req.Reply(ctx, "usage: /timeout <user_id> <minutes> [reason]")
	}
	span, err := timeoutSpan(rest[0])
	if err != nil {
		return feature.UserFacing(ctx, req, err)
	}
	reason := reasonOf(rest[1:])
	until := f.deps.Clock.Now().Add(span)
	if err := f.mute.Mute(ctx, req.Chat.ChatID, user, until); err != nil {
		return req.Reply(ctx, "failed to time out member: "+err.Error())
	}
	text := humandur.Format(int64(span / time.Second))
	f.record(ctx, audit.Entry{GuildScope: req.Scope(), ActorID: feature.FormatID(req.FromID), TargetID: feature.FormatID(user), Action: audit.ActionTimeout, Reason: reason + " (for " + text + ")"})
	return req.Reply(ctx, fmt.Sprintf("Timed out %d for %s. Reason: %s", user, text, reason))
}

func (f *Feature) handleTempBan(ctx context.Context, req *router.Request) error {
	if f.mod == nil {
		return req.Reply(ctx, ErrUnsupported.Error())
	}
	user, rest, err := target(req)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	if len(rest) == 0 {
		return req.Reply(ctx, "usage: /tempban <user_id> <duration> [reason]")
	}
	secs := humandur.Parse(rest[0])
	if secs <= 0 {
		return feature.UserFacing(ctx, req, fmt.Errorf("%w: use forms like 45m, 7d or 1h30m", task.ErrInvalidDuration))
	}
	reason := reasonOf(rest[1:])

	// The ban itself is open-ended; the scheduled unban lifts it.
	if err := f.mod.Ban(ctx, req.Chat.ChatID, user, time.Time{}); err != nil {
		return req.Reply(ctx, "failed to ban member: "+err.Error())
	}
	t, err := feature.Schedule(ctx, f.deps, task.Input{
		GuildScope:  req.Scope(),
		RequesterID: feature.FormatID(req.FromID),
		TargetID:    feature.FormatID(user),
		Kind:        task.KindScheduledUnban,
		Handler:     unbanRef,
		Payload:     task.Payload{"chat_id": feature.FormatID(req.Chat.ChatID), "reason": reason},
		Delay:       secs,
	})
	if err != nil {
		_ = req.Reply(ctx, fmt.Sprintf("Banned %d, but the automatic unban could not be scheduled. Use /unban later.", user))
		return err
	}
	span := humandur.Format(secs)
	f.record(ctx, audit.Entry{GuildScope: req.Scope(), ActorID: feature.FormatID(req.FromID), TargetID: feature.FormatID(user), Action: audit.ActionTempBan, Reason: reason + " (for " + span + ")"})
	req.Logger.Info("temp-ban scheduled", logx.Task(t.ID, t.Kind), logx.Time("due_at", t.DueAt))
	return req.Reply(ctx, fmt.Sprintf("Banned %d for %s. Reason: %s", user, span, reason))
}

func (f *Feature) handleUnban(ctx context.Context, req *router.Request) error {
	if f.mod == nil {
		return req.Reply(ctx, ErrUnsupported.Error())
	}
	user, _, err := target(req)
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	if err := f.mod.Unban(ctx, req.Chat.ChatID, user); err != nil {
		return req.Reply(ctx, "failed to unban member: "+err.Error())
	}
	cancelled, err := f.dropScheduledUnbans(ctx, req.Scope(), feature.FormatID(user))
	if err != nil {
		req.Logger.Warn("scheduled unban cleanup failed", logx.Err(err))
	}
	f.record(ctx, audit.Entry{GuildScope: req.Scope(), ActorID: feature.FormatID(req.FromID), TargetID: feature.FormatID(user), Action: audit.ActionUnban, Reason: "manual"})
	msg := fmt.Sprintf("Unbanned %d.", user)
	if cancelled > 0 {
		msg += fmt.Sprintf(" Cancelled %d scheduled unban(s).", cancelled)
	}
	return req.Reply(ctx, msg)
}

// dropScheduledUnbans removes pending unbans for one member in one chat.
// A timer that still fires later finds no row and does nothing.
func (f *Feature) dropScheduledUnbans(ctx context.Context, scope, target string) (int, error) {
	rows, err := f.deps.Ledger.ByTarget(ctx, task.KindScheduledUnban, target, scope)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range rows {
		f.deps.Scheduler.Cancel(t.ID)
		if _, err := f.deps.Ledger.DeleteByID(ctx, t.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (f *Feature) handleLog(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(req.RawArgs)
	if text == "" {
		return req.Reply(ctx, "usage: /log <text>")
	}
	if f.deps.Audit == nil {
		return req.Reply(ctx, "audit log unavailable")
	}
	e, err := f.deps.Audit.Append(ctx, audit.Entry{GuildScope: req.Scope(), ActorID: feature.FormatID(req.FromID), Action: audit.ActionManualLog, Reason: text})
	if err != nil {
		return err
	}
	return req.Reply(ctx, "Logged as "+e.ID+".")
}

func (f *Feature) handleModlog(ctx context.Context, req *router.Request) error {
	if f.deps.Audit == nil {
		return req.Reply(ctx, "audit log unavailable")
	}
	n := 10
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return req.Reply(ctx, "usage: /modlog [count]")
		}
		n = v
	}
	if n > maxModlog {
		n = maxModlog
	}
	entries, err := f.deps.Audit.Recent(ctx, req.Scope(), n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No moderation entries yet.")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %s", e.At.UTC().Format("2006-01-02 15:04"), e.Action)
		if e.TargetID != "" {
			fmt.Fprintf(&b, " %s", e.TargetID)
		}
		fmt.Fprintf(&b, " by %s", e.ActorID)
		if e.Reason != "" {
			fmt.Fprintf(&b, ": %s", tgui.TruncRunes(e.Reason, maxReasonShown))
		}
		b.WriteString("\n")
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

// liftBan is the fire-time effect of a scheduled unban.
func (f *Feature) liftBan(ctx context.Context, t task.DeferredTask) error {
	if f.mod == nil {
		return ErrUnsupported
	}
	user, err := feature.UserID(t.TargetID)
	if err != nil {
		return task.Definitive(err)
	}
	chat, ok := t.Payload.Int64("chat_id")
	if !ok {
		n, err := strconv.ParseInt(t.GuildScope, 10, 64)
		if err != nil {
			return task.Definitive(fmt.Errorf("invalid chat scope %q", t.GuildScope))
		}
		chat = n
	}
	if err := f.mod.Unban(ctx, chat, user); err != nil {
		return err
	}
	f.record(ctx, audit.Entry{GuildScope: t.GuildScope, ActorID: SystemActor, TargetID: t.TargetID, Action: audit.ActionAutoUnban, Reason: "temp-ban by " + t.RequesterID + " expired"})
	f.log.Info("temp-ban lifted", logx.Task(t.ID, t.Kind), logx.Int64("user_id", user), logx.Int64("chat_id", chat))
	return nil
}
