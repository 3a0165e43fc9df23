// Package greeting welcomes new members and answers the "hello mycelium"
// greeting.
package greeting

import (
	"context"
	"strings"

	"mycelium/internal/feature"
	"mycelium/internal/task/bridge"
	kit "mycelium/internal/transport"
	"mycelium/internal/transport/telegram/router"
	logx "mycelium/pkg/logx"
	"mycelium/pkg/tgui"
)

const Module = "greeting"

// Phrase is matched case-insensitively against the whole message.
const Phrase = "hello mycelium"

type Feature struct {
	adapter kit.Adapter
	log     logx.Logger
}

var _ feature.Feature = (*Feature)(nil)

func New(deps feature.Deps, adapter kit.Adapter) *Feature {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feature{adapter: adapter, log: log.With(logx.String("feature", Module))}
}

func (f *Feature) Name() string { return Module }

func (f *Feature) Commands() []router.Command { return nil }

func (f *Feature) RegisterHandlers(*bridge.Registry) {}

// OnMemberJoin posts a welcome in the chat the member joined.
func (f *Feature) OnMemberJoin(ctx context.Context, ev kit.MemberEvent) {
	text := tgui.JoinH("", tgui.Esc("Please welcome "), tgui.Mention(displayName(ev.Username), ev.UserID), tgui.Esc(" to the group!"))
	if _, err := f.adapter.SendText(ctx, kit.ChatTarget{ChatID: ev.ChatID}, text.String(), &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		f.log.Warn("welcome not sent", logx.Int64("chat_id", ev.ChatID), logx.Int64("user_id", ev.UserID), logx.Err(err))
	}
}

// OnMessage answers the greeting phrase.
func (f *Feature) OnMessage(ctx context.Context, msg kit.Message) {
	if !strings.EqualFold(strings.TrimSpace(msg.Text), Phrase) {
		return
	}
	text := tgui.JoinH("", tgui.Esc("Hello, "), tgui.Mention(displayName(msg.FromUsername), msg.FromID), tgui.Esc("!"))
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := f.adapter.SendText(ctx, to, text.String(), &kit.SendOptions{ParseMode: "HTML", ReplyTo: msg.ID}); err != nil {
		f.log.Debug("greeting not sent", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

func displayName(username string) string {
	if u := strings.TrimSpace(username); u != "" {
		return u
	}
	return "friend"
}
