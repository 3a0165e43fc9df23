// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"time"

	kit "mycelium/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

type DM struct {
	UserID int64
	Text   string
}

type BanCall struct {
	ChatID int64
	UserID int64
	Until  time.Time
	Unban  bool
	Mute   bool
}

// Adapter records outgoing traffic. Set the error fields to simulate
// platform refusals.
type Adapter struct {
	mu sync.Mutex

	sent  []Sent
	dms   []DM
	bans  []BanCall
	menus [][]kit.BotCommand

	SendErr  error
	DMErr    error
	BanErr   error
	UnbanErr error
	MuteErr  error

	// Members answers Member lookups by user id.
	Members map[int64]kit.MemberInfo

	nextID int
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.Moderator          = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
	_ kit.Muter              = (*Adapter)(nil)
	_ kit.MemberLookup       = (*Adapter)(nil)
)

// ErrNoMember is returned by Member for ids missing from Members.
var ErrNoMember = errors.New("member not found")

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Start(ctx context.Context, _ chan<- kit.Update) error {
	<-ctx.Done()
	return nil
}

func (a *Adapter) Stop(context.Context) error { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SendErr != nil {
		return kit.MessageRef{}, a.SendErr
	}
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	a.nextID++
	a.sent = append(a.sent, Sent{To: to, Text: text, Opt: o})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) SendDirect(_ context.Context, userID int64, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DMErr != nil {
		return kit.MessageRef{}, a.DMErr
	}
	a.nextID++
	a.dms = append(a.dms, DM{UserID: userID, Text: text})
	return kit.MessageRef{ChatID: userID, MessageID: a.nextID}, nil
}

func (a *Adapter) Ban(_ context.Context, chatID, userID int64, until time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.BanErr != nil {
		return a.BanErr
	}
	a.bans = append(a.bans, BanCall{ChatID: chatID, UserID: userID, Until: until})
	return nil
}

func (a *Adapter) Unban(_ context.Context, chatID, userID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.UnbanErr != nil {
		return a.UnbanErr
	}
	a.bans = append(a.bans, BanCall{ChatID: chatID, UserID: userID, Unban: true})
	return nil
}

func (a *Adapter) Mute(_ context.Context, chatID, userID int64, until time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.MuteErr != nil {
		return a.MuteErr
	}
	a.bans = append(a.bans, BanCall{ChatID: chatID, UserID: userID, Until: until, Mute: true})
	return nil
}

func (a *Adapter) Member(_ context.Context, _, userID int64) (kit.MemberInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.Members[userID]
	if !ok {
		return kit.MemberInfo{}, ErrNoMember
	}
	return m, nil
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menus = append(a.menus, append([]kit.BotCommand(nil), cmds...))
	return nil
}

func (a *Adapter) SetErrors(send, dm error) {
	a.mu.Lock()
	a.SendErr, a.DMErr = send, dm
	a.mu.Unlock()
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

func (a *Adapter) DMs() []DM {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]DM(nil), a.dms...)
}

func (a *Adapter) Bans() []BanCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]BanCall(nil), a.bans...)
}

func (a *Adapter) Menus() [][]kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]kit.BotCommand(nil), a.menus...)
}

// LastText returns the most recent chat message text, or "".
func (a *Adapter) LastText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1].Text
}
