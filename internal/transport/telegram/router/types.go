// Package router turns chat updates into command invocations. It owns the
// command registry, access checks, per-user limits and the dispatch worker
// pool.
package router

import (
	"context"
	"strconv"
	"time"

	kit "mycelium/internal/transport"
	logx "mycelium/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is the command word without the prefix, e.g. "remindme".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// GroupOnly commands are refused in private chats.
	GroupOnly bool
	Timeout   time.Duration // optional per-command override
	Handle    HandlerFunc
}

// MemberHandler observes member joins.
type MemberHandler func(ctx context.Context, ev kit.MemberEvent)

// MessageHandler observes plain messages that are not commands.
type MessageHandler func(ctx context.Context, msg kit.Message)

type Request struct {
	Update        kit.Update
	Chat          kit.ChatTarget
	FromID        int64
	FromUsername  string
	MessageID     int
	ReplyToFromID int64
	IsGroup       bool

	Command string
	Args    []string
	// RawArgs is the text after the command word with spacing preserved.
	RawArgs string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64
}

func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.Owners) }

// Scope is the chat id as text, the guild scope stored with tasks and audit
// entries.
func (r *Request) Scope() string { return strconv.FormatInt(r.Chat.ChatID, 10) }

// Reply answers in the originating chat as a reply to the command message.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ReplyTo: r.MessageID, DisablePreview: true})
	return err
}

func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ReplyTo: r.MessageID, DisablePreview: true, ParseMode: "HTML"})
	return err
}

// Policy is the hot-reloadable part of the router configuration.
type Policy struct {
	Prefix           string
	Disabled         []string
	PerUserPerMinute int
	Cooldown         time.Duration
	Timeout          time.Duration
	LogCommands      bool
	AllowDM          bool
}

func (p Policy) withDefaults() Policy {
	if p.Prefix == "" {
		p.Prefix = "/"
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	return p
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
