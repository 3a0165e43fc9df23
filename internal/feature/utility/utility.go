// Package utility holds small operational commands: liveness, member
// lookup, the pending task list and cancellation.
package utility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mycelium/internal/feature"
	"mycelium/internal/task"
	"mycelium/internal/task/bridge"
	kit "mycelium/internal/transport"
	"mycelium/internal/transport/telegram/router"
	"mycelium/pkg/humandur"
	logx "mycelium/pkg/logx"
	"mycelium/pkg/tgui"
)

const maxListed = 30

type Feature struct {
	deps    feature.Deps
	started time.Time
	log     logx.Logger
}

var _ feature.Feature = (*Feature)(nil)

func New(deps feature.Deps) *Feature {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feature{deps: deps, started: deps.Clock.Now(), log: log.With(logx.String("feature", "utility"))}
}

func (f *Feature) Name() string { return "utility" }

// RegisterHandlers is a no-op; utility has no deferred effects.
func (f *Feature) RegisterHandlers(*bridge.Registry) {}

func (f *Feature) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "check the bot is alive",
			Usage:       "/ping",
			Handle:      f.handlePing,
		},
		{
			Route:       "userinfo",
			Aliases:     []string{"whois"},
			Description: "show what the chat knows about a member",
			Usage:       "/userinfo [user_id]  (or reply to a message)",
			GroupOnly:   true,
			Handle:      f.handleUserInfo,
		},
		{
			Route:       "tasks",
			Description: "list pending deferred tasks",
			Usage:       "/tasks",
			Access:      router.AccessOwnerOnly,
			Handle:      f.handleTasks,
		},
		{
			Route:       "cancel",
			Description: "cancel a pending task you created",
			Usage:       "/cancel <task_id>",
			Handle:      f.handleCancel,
		},
	}
}

func (f *Feature) handlePing(ctx context.Context, req *router.Request) error {
	up := int64(f.deps.Clock.Now().Sub(f.started) / time.Second)
	return req.Reply(ctx, "pong (up "+humandur.Format(up)+")")
}

func (f *Feature) handleUserInfo(ctx context.Context, req *router.Request) error {
	look, ok := req.Adapter.(kit.MemberLookup)
	if !ok {
		return req.Reply(ctx, "member lookup not supported by this transport")
	}
	user := req.FromID
	switch {
	case len(req.Args) > 0:
		id, err := feature.UserID(req.Args[0])
		if err != nil {
			return req.Reply(ctx, "usage: /userinfo [user_id]")
		}
		user = id
	case req.ReplyToFromID != 0:
		user = req.ReplyToFromID
	}
	m, err := look.Member(ctx, req.Chat.ChatID, user)
	if err != nil {
		req.Logger.Debug("member lookup failed", logx.Int64("user_id", user), logx.Err(err))
		return req.Reply(ctx, fmt.Sprintf("Could not find member %d in this chat.", user))
	}
	return req.ReplyHTML(ctx, renderMember(m))
}

func renderMember(m kit.MemberInfo) string {
	name := strings.TrimSpace(m.FirstName + " " + m.LastName)
	if name == "" {
		name = m.Username
	}
	if name == "" {
		name = feature.FormatID(m.UserID)
	}
	lines := []tgui.H{
		tgui.B("User information"),
		tgui.JoinH("", tgui.Esc("Name: "), tgui.Mention(name, m.UserID)),
	}
	if m.Username != "" {
		lines = append(lines, tgui.Esc("Username: @"+m.Username))
	}
	lines = append(lines, tgui.JoinH("", tgui.Esc("User ID: "), tgui.Code(feature.FormatID(m.UserID))))
	if m.Status != "" {
		lines = append(lines, tgui.Esc("Status: "+m.Status))
	}
	if m.Title != "" {
		lines = append(lines, tgui.Esc("Title: "+m.Title))
	}
	if !m.Until.IsZero() {
		lines = append(lines, tgui.Esc("Restricted until: "+m.Until.UTC().Format("2006-01-02 15:04 UTC")))
	}
	if m.IsBot {
		lines = append(lines, tgui.I("bot account"))
	}
	return string(tgui.JoinH("\n", lines...))
}

func (f *Feature) handleTasks(ctx context.Context, req *router.Request) error {
	rows, err := f.deps.Ledger.AllPending(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return req.Reply(ctx, "No pending tasks.")
	}
	now := f.deps.Clock.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending task(s):\n", len(rows))
	for i, t := range rows {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more", len(rows)-maxListed)
			break
		}
		left := int64(t.Remaining(now) / time.Second)
		fmt.Fprintf(&b, "%s  %s  target=%s  in %s\n", t.ID, t.Kind, t.TargetID, humandur.Format(left))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

// handleCancel deletes the row and stops its timer. Owners may cancel any
// task; others only their own.
func (f *Feature) handleCancel(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /cancel <task_id>")
	}
	id := strings.TrimSpace(req.Args[0])
	t, err := f.deps.Ledger.Get(ctx, id)
	if errors.Is(err, task.ErrNotFound) {
		return req.Reply(ctx, "No pending task "+id+".")
	}
	if err != nil {
		return err
	}
	if !req.IsOwner() && t.RequesterID != feature.FormatID(req.FromID) {
		return req.Reply(ctx, "You can only cancel your own tasks.")
	}
	f.deps.Scheduler.Cancel(t.ID)
	if _, err := f.deps.Ledger.DeleteByID(ctx, t.ID); err != nil {
		return err
	}
	req.Logger.Info("task cancelled by command", logx.Task(t.ID, t.Kind))
	return req.Reply(ctx, "Cancelled "+t.ID+" ("+t.Kind+").")
}
