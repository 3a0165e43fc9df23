package adapter

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "mycelium/internal/transport"
)

// Ban removes userID from chatID. A zero until bans forever; Telegram
// treats bans under 30s or over 366 days as permanent as well.
func (a *Adapter) Ban(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	member := &tele.ChatMember{User: &tele.User{ID: userID}}
	if !until.IsZero() {
		member.RestrictedUntil = until.Unix()
	}
	return a.bot.Ban(&tele.Chat{ID: chatID}, member)
}

// Unban lifts a ban. The user is not re-added; they may rejoin.
func (a *Adapter) Unban(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Unban(&tele.Chat{ID: chatID}, &tele.User{ID: userID}, true)
}

// Mute takes away every send right until the deadline.
func (a *Adapter) Mute(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	member := &tele.ChatMember{
		User:            &tele.User{ID: userID},
		Rights:          tele.NoRights(),
		RestrictedUntil: until.Unix(),
	}
	return a.bot.Restrict(&tele.Chat{ID: chatID}, member)
}

func (a *Adapter) Member(ctx context.Context, chatID, userID int64) (kit.MemberInfo, error) {
	if err := ctx.Err(); err != nil {
		return kit.MemberInfo{}, err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return kit.MemberInfo{}, err
	}
	return memberInfo(userID, m), nil
}

func memberInfo(userID int64, m *tele.ChatMember) kit.MemberInfo {
	info := kit.MemberInfo{UserID: userID, Status: string(m.Role), Title: m.Title}
	if u := m.User; u != nil {
		info.UserID = u.ID
		info.Username = u.Username
		info.FirstName = u.FirstName
		info.LastName = u.LastName
		info.IsBot = u.IsBot
	}
	if m.RestrictedUntil > 0 {
		info.Until = time.Unix(m.RestrictedUntil, 0).UTC()
	}
	return info
}
