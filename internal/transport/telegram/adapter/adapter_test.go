package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "mycelium/internal/transport"
	logx "mycelium/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"short"}, splitText("short", 10, ""))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitText(long, 8, ""))

	html := "abcd<b>bold</b>"
	parts := splitText(html, 6, tele.ModeHTML)
	assert.Equal(t, "abcd", parts[0])
	assert.Equal(t, html, strings.Join(parts, ""))
}

func TestMessageUpdate(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:      9,
		Text:    "/tempban 100 1h spam",
		Chat:    &tele.Chat{ID: -1001, Type: tele.ChatSuperGroup},
		Sender:  &tele.User{ID: 42, Username: "mod"},
		ReplyTo: &tele.Message{Sender: &tele.User{ID: 100}},
	}
	up, ok := messageUpdate(m)
	require.True(t, ok)
	assert.Equal(t, kit.UpdateMessage, up.Kind)
	assert.True(t, up.Message.IsGroup)
	assert.Equal(t, int64(42), up.Message.FromID)
	assert.Equal(t, int64(100), up.Message.ReplyToFromID)

	_, ok = messageUpdate(&tele.Message{Chat: &tele.Chat{ID: 1}})
	assert.False(t, ok)
}

func TestJoinUpdates(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		Chat:        &tele.Chat{ID: -1001},
		UsersJoined: []tele.User{{ID: 1, Username: "a"}, {ID: 2}},
	}
	ups := joinUpdates(m)
	require.Len(t, ups, 2)
	assert.Equal(t, kit.UpdateMemberJoin, ups[0].Kind)
	assert.Equal(t, int64(2), ups[1].Member.UserID)

	single := &tele.Message{Chat: &tele.Chat{ID: -1001}, UserJoined: &tele.User{ID: 7}}
	require.Len(t, joinUpdates(single), 1)
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/setMyCommands"))
		var body struct {
			Commands []menuCommand `json:"commands"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Commands, 2)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := &Adapter{cfg: Config{Token: "t"}, log: logx.Nop()}
	a.menu.http = srv.Client()
	a.menu.base = srv.URL

	cmds := []kit.BotCommand{{Command: "remindme", Description: "remind me later"}, {Command: "ping"}}
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMemberInfo(t *testing.T) {
	t.Parallel()

	info := memberInfo(5, &tele.ChatMember{
		User:            &tele.User{ID: 5, Username: "ana", FirstName: "Ana"},
		Role:            tele.Restricted,
		RestrictedUntil: 1700000000,
	})
	assert.Equal(t, "ana", info.Username)
	assert.Equal(t, "restricted", info.Status)
	assert.Equal(t, int64(1700000000), info.Until.Unix())

	info = memberInfo(6, &tele.ChatMember{Role: tele.Member})
	assert.Equal(t, int64(6), info.UserID)
	assert.True(t, info.Until.IsZero())
}

func TestIsForbidden(t *testing.T) {
	t.Parallel()
	assert.True(t, isForbidden(tele.ErrBlockedByUser))
	assert.True(t, isForbidden(assertErr("telegram: Forbidden: bot can't initiate conversation with a user (403)")))
	assert.False(t, isForbidden(assertErr("telegram: Too Many Requests (429)")))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
