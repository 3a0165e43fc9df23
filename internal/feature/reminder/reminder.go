// Package reminder implements /remindme: a deferred private message that
// falls back to the originating chat when the user cannot be messaged.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

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
	Module          = "reminder"
	FunctionDeliver = "deliver"

	maxTextLen = 1000
)

var deliverRef = task.HandlerRef{Module: Module, Function: FunctionDeliver}

type Feature struct {
	deps    feature.Deps
	adapter kit.Adapter
	log     logx.Logger
}

var _ feature.Feature = (*Feature)(nil)

func New(deps feature.Deps, adapter kit.Adapter) *Feature {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feature{deps: deps, adapter: adapter, log: log.With(logx.String("feature", Module))}
}

func (f *Feature) Name() string { return Module }

func (f *Feature) RegisterHandlers(reg *bridge.Registry) {
	reg.Register(Module, FunctionDeliver, bridge.LedgerBound(f.deps.Ledger, f.log, f.deliver))
}

func (f *Feature) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "remindme",
			Aliases:     []string{"remind"},
			Description: "remind me about something later",
			Usage:       "/remindme <duration> <text>  (e.g. /remindme 1h30m stretch)",
			Handle:      f.handleRemindMe,
		},
	}
}

func (f *Feature) handleRemindMe(ctx context.Context, req *router.Request) error {
	durText, text := cutFirstWord(req.RawArgs)
	if durText == "" || text == "" {
		return req.Reply(ctx, "usage: /remindme <duration> <text>")
	}
	secs := humandur.Parse(durText)
	if secs <= 0 {
		return feature.UserFacing(ctx, req, fmt.Errorf("%w: use forms like 45m, 7d or 1h30m", task.ErrInvalidDuration))
	}
	text = tgui.TruncRunes(text, maxTextLen)

	payload := task.Payload{
		"text":    text,
		"chat_id": strconv.FormatInt(req.Chat.ChatID, 10),
	}
	if req.Chat.ThreadID != 0 {
		payload["thread_id"] = strconv.Itoa(req.Chat.ThreadID)
	}
	if req.FromUsername != "" {
		payload["username"] = req.FromUsername
	}

	t, err := feature.Schedule(ctx, f.deps, task.Input{
		GuildScope:  req.Scope(),
		RequesterID: feature.FormatID(req.FromID),
		TargetID:    task.TargetReminder,
		Kind:        task.KindReminder,
		Handler:     deliverRef,
		Payload:     payload,
		Delay:       secs,
	})
	if err != nil {
		return feature.UserFacing(ctx, req, err)
	}

	if f.deps.Audit != nil {
		if _, err := f.deps.Audit.Append(ctx, audit.Entry{
			GuildScope: req.Scope(),
			ActorID:    feature.FormatID(req.FromID),
			TargetID:   t.ID,
			Action:     audit.ActionReminder,
			Reason:     "due in " + humandur.Format(secs),
		}); err != nil {
			req.Logger.Warn("audit append failed", logx.Err(err))
		}
	}

	return req.Reply(ctx, fmt.Sprintf("Okay, I will remind you about %q in %s.", text, humandur.Format(secs)))
}

// deliver DMs the requester and falls back to the origin chat. The row is
// removed when either channel worked.
func (f *Feature) deliver(ctx context.Context, t task.DeferredTask) error {
	userID, err := feature.UserID(t.RequesterID)
	if err != nil {
		return task.Definitive(err)
	}
	text := t.Payload.String("text")

	_, dmErr := f.adapter.SendDirect(ctx, userID, "⏰ Reminder: "+text, &kit.SendOptions{DisablePreview: true})
	if dmErr == nil {
		return nil
	}
	f.log.Info("reminder DM failed; using origin chat", logx.Task(t.ID, t.Kind), logx.Err(dmErr))

	to, err := originChat(t)
	if err != nil {
		return errors.Join(dmErr, task.Definitive(err))
	}
	name := t.Payload.String("username")
	if name == "" {
		name = "you"
	}
	msg := tgui.Mention(name, userID).String() + ", I couldn't DM you, so here is your reminder:\n⏰ " + tgui.Esc(text).String()
	if _, err := f.adapter.SendText(ctx, to, msg, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		return fmt.Errorf("dm: %v; origin chat: %w", dmErr, err)
	}
	return nil
}

func originChat(t task.DeferredTask) (kit.ChatTarget, error) {
	chat, ok := t.Payload.Int64("chat_id")
	if !ok {
		n, err := strconv.ParseInt(t.GuildScope, 10, 64)
		if err != nil {
			return kit.ChatTarget{}, fmt.Errorf("no origin chat for %s", t.ID)
		}
		chat = n
	}
	thread, _ := t.Payload.Int64("thread_id")
	return kit.ChatTarget{ChatID: chat, ThreadID: int(thread)}, nil
}

func cutFirstWord(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
