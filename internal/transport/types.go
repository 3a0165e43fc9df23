// Package transport is the chat-platform boundary. Everything above it talks
// in these types; the telegram subpackage implements Adapter.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrCannotDM is returned by SendDirect when the platform refuses a private
// message (the user never opened a conversation with the bot, or blocked it).
var ErrCannotDM = errors.New("direct message not allowed")

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateMemberJoin UpdateKind = "member_join"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Member  *MemberEvent
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	// ReplyToFromID is the author of the replied-to message (0 if none).
	ReplyToFromID int64
}

// MemberEvent reports a user joining a group.
type MemberEvent struct {
	ChatID   int64
	UserID   int64
	Username string
	At       time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
}

// BotCommand is one entry of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendDirect sends a private message to a user.
	SendDirect(ctx context.Context, userID int64, text string, opt *SendOptions) (MessageRef, error)
}

// Moderator is implemented by adapters able to ban and unban members.
type Moderator interface {
	Ban(ctx context.Context, chatID, userID int64, until time.Time) error
	Unban(ctx context.Context, chatID, userID int64) error
}

// Muter is implemented by adapters able to silence a member until a deadline.
// The platform lifts the restriction on its own.
type Muter interface {
	Mute(ctx context.Context, chatID, userID int64, until time.Time) error
}

// MemberInfo describes one member of a chat.
type MemberInfo struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	IsBot     bool
	Status    string // creator, administrator, member, restricted, left, kicked
	Title     string // custom admin title
	Until     time.Time
}

// MemberLookup is implemented by adapters that can describe chat members.
type MemberLookup interface {
	Member(ctx context.Context, chatID, userID int64) (MemberInfo, error)
}

// CommandMenuUpdater is an optional interface for adapters with a command
// menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
