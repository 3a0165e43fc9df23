package greeting

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mycelium/internal/feature/featuretest"
	kit "mycelium/internal/transport"
)

func TestWelcome(t *testing.T) {
	env := featuretest.New(t)
	f := New(env.Deps, env.Adapter)

	f.OnMemberJoin(context.Background(), kit.MemberEvent{ChatID: -100, UserID: 9, Username: "newbie"})
	sent := env.Adapter.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-100), sent[0].To.ChatID)
	assert.Equal(t, `Please welcome <a href="tg://user?id=9">newbie</a> to the group!`, sent[0].Text)
	assert.Equal(t, "HTML", sent[0].Opt.ParseMode)
}

func TestGreetingPhrase(t *testing.T) {
	env := featuretest.New(t)
	f := New(env.Deps, env.Adapter)
	ctx := context.Background()

	f.OnMessage(ctx, kit.Message{ID: 3, ChatID: -100, FromID: 4, Text: "hello there"})
	assert.Empty(t, env.Adapter.Sent())

	f.OnMessage(ctx, kit.Message{ID: 3, ChatID: -100, FromID: 4, Text: "  Hello Mycelium "})
	sent := env.Adapter.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, `Hello, <a href="tg://user?id=4">friend</a>!`, sent[0].Text)
	assert.Equal(t, 3, sent[0].Opt.ReplyTo)
}

func TestWelcomeSendFailureIsQuiet(t *testing.T) {
	env := featuretest.New(t)
	f := New(env.Deps, env.Adapter)
	env.Adapter.SetErrors(errors.New("chat write forbidden"), nil)

	f.OnMemberJoin(context.Background(), kit.MemberEvent{ChatID: -100, UserID: 9})
	assert.Empty(t, env.Adapter.Sent())
}
