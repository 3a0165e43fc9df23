package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInOrder(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var got []string
	m.AfterFunc(2*time.Minute, func() { got = append(got, "b") })
	m.AfterFunc(time.Minute, func() { got = append(got, "a") })
	stopped := m.AfterFunc(90*time.Second, func() { got = append(got, "x") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 2, m.Pending())

	m.Advance(30 * time.Second)
	assert.Empty(t, got)

	m.Advance(5 * time.Minute)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, start.Add(5*time.Minute+30*time.Second), m.Now())
	assert.Equal(t, 0, m.Pending())
}

func TestManualNestedTimer(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var at []time.Time
	m.AfterFunc(time.Minute, func() {
		at = append(at, m.Now())
		m.AfterFunc(time.Minute, func() { at = append(at, m.Now()) })
	})
	m.Advance(time.Hour)
	assert.Equal(t, []time.Time{start.Add(time.Minute), start.Add(2 * time.Minute)}, at)
}

func TestManualZeroDelayFiresOnNextAdvance(t *testing.T) {
	t.Parallel()

	m := NewManual(time.Unix(0, 0))
	fired := false
	m.AfterFunc(0, func() { fired = true })
	assert.False(t, fired)
	m.Advance(0)
	assert.True(t, fired)
}
