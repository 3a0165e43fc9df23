package task

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRefRoundTrip(t *testing.T) {
	t.Parallel()

	ref, err := ParseHandlerRef(" reminder:deliver ")
	require.NoError(t, err)
	assert.Equal(t, "reminder", ref.Module)
	assert.Equal(t, "deliver", ref.Function)
	assert.Equal(t, "reminder:deliver", ref.String())

	for _, bad := range []string{"", "reminder", ":deliver", "reminder:"} {
		_, err := ParseHandlerRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestPayloadCodec(t *testing.T) {
	t.Parallel()

	s, err := EncodePayload(Payload{"chat_id": int64(-1001234567890123), "text": "stretch"})
	require.NoError(t, err)

	p, err := DecodePayload(s)
	require.NoError(t, err)
	assert.Equal(t, "stretch", p.String("text"))

	id, ok := p.Int64("chat_id")
	require.True(t, ok)
	assert.Equal(t, int64(-1001234567890123), id)

	p, err = DecodePayload("")
	require.NoError(t, err)
	assert.Empty(t, p)

	_, err = DecodePayload("{not json")
	assert.Error(t, err)
}

func TestErrorsMatch(t *testing.T) {
	t.Parallel()

	base := errors.New("disk gone")
	err := fmt.Errorf("insert: %w", &StorageError{Op: "insert", Err: base})
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, base)

	d := Definitive(base)
	assert.True(t, IsDefinitive(fmt.Errorf("wrap: %w", d)))
	assert.False(t, IsDefinitive(base))
	assert.Nil(t, Definitive(nil))

	assert.True(t, IsInputError(fmt.Errorf("parse: %w", ErrInvalidDuration)))
	assert.False(t, IsInputError(err))
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tk := DeferredTask{DueAt: now.Add(time.Minute)}
	assert.Equal(t, time.Minute, tk.Remaining(now))
	assert.Equal(t, time.Duration(0), tk.Remaining(now.Add(time.Hour)))
}
