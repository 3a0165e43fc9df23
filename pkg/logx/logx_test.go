package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	kit "mycelium/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "ledger"))
	log.Info("task stored", Task("tsk_1", "reminder"), Int64("delay", 60))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "task stored", m["message"])
	assert.Equal(t, "ledger", m["comp"])
	assert.Equal(t, "tsk_1", m["task_id"])
	assert.Equal(t, "reminder", m["kind"])
	assert.Equal(t, float64(60), m["delay"])
	assert.Contains(t, m["caller"], "logx_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	assert.True(t, l.IsZero())
	l.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	got := formatChatLine([]byte(`{"level":"warn","message":"fire failed","time":"x","task_id":"tsk_9","err":"boom"}`))
	assert.Equal(t, "[WARN] fire failed\n- err=boom\n- task_id=tsk_9", got)

	got = formatChatLine([]byte("plain text\n"))
	assert.Equal(t, "plain text", got)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	t.Parallel()

	snd := &recordingSender{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 50}}, snd)
	t.Cleanup(func() { _ = svc.Close() })
	svc.SetChatTarget(-100, 7)

	log.Info("routine")
	log.Warn("unban failed", String("user", "42"))

	require.Eventually(t, func() bool { return len(snd.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := snd.snapshot()[0]
	assert.True(t, strings.HasPrefix(msg, "[WARN] unban failed"), msg)
	assert.Contains(t, msg, "user=42")
}
