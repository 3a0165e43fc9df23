package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: TaskArmed})
	assert.Equal(t, TaskArmed, (<-a).Type)
	assert.Equal(t, TaskArmed, (<-c).Type)

	// Full buffers drop instead of blocking.
	b.Publish(Event{Type: TaskFired})
	b.Publish(Event{Type: TaskFired})

	unsubA()
	unsubA()
	_, ok := <-a
	assert.False(t, ok)
	b.Publish(Event{Type: TaskCompleted})
}

func TestRecorderRing(t *testing.T) {
	t.Parallel()

	r := NewRecorder(3)
	for _, typ := range []string{TaskArmed, TaskFired, TaskCompleted, TaskArmed} {
		r.Add(Event{Type: typ})
	}
	got := r.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, TaskFired, got[0].Type)
	assert.Equal(t, TaskArmed, got[2].Type)
	assert.Equal(t, uint64(2), r.Counts()[TaskArmed])
}

func TestRecorderRun(t *testing.T) {
	t.Parallel()

	b := New()
	r := NewRecorder(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, b)

	require.Eventually(t, func() bool {
		b.Publish(Event{Type: TaskFailed})
		return r.Counts()[TaskFailed] > 0
	}, 2*time.Second, 5*time.Millisecond)
}
