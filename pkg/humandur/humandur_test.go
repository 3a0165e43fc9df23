package humandur

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
	}{
		{"45m", 45 * Minute},
		{"7d", 7 * Day},
		{"1h", Hour},
		{"30s", 30},
		{"  2H ", 2 * Hour},
		{"1h30m", Hour + 30*Minute},
		{"1d 2h 5s", Day + 2*Hour + 5},
		{"10 m", 10 * Minute},
		{"0m", 0},
		{"", 0},
		{"   ", 0},
		{"abc", 0},
		{"-5m", 0},
		{"10x", 0},
		{"10", 0},
		{"m", 0},
		{"1.5h", 0},
		{"5m!", 0},
		{"99999999999999999999s", 0},
		{"9223372036854775807d", 0},
		{"100000d", 100000 * Day},
		{"200000d", 0},
		{"300000d", 0},
		{"9223372036s", 9223372036},
		{"9223372037s", 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Parse(tt.in); got != tt.want {
				t.Fatalf("Parse(%q) got=%d want=%d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseStrict(t *testing.T) {
	t.Parallel()

	n, err := ParseStrict("2m")
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)

	_, err = ParseStrict("0s")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 seconds"},
		{-10, "0 seconds"},
		{1, "1 second"},
		{59, "59 seconds"},
		{60, "1 minute"},
		{3600, "1 hour"},
		{90000, "1 day, 1 hour"},
		{Day + 2*Hour + 5, "1 day, 2 hours, 5 seconds"},
		{2*Day + 3*Minute, "2 days, 3 minutes"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Fatalf("Format(%d) got=%q want=%q", tt.in, got, tt.want)
		}
	}
}

func TestFormatUsesUnitsNoLargerThanInput(t *testing.T) {
	t.Parallel()

	order := map[string]int{"second": 0, "minute": 1, "hour": 2, "day": 3}
	inputUnit := map[string]string{"s": "second", "m": "minute", "h": "hour", "d": "day"}

	for _, in := range []string{"45s", "45m", "7d", "1h", "23h", "59m", "1d", "12h"} {
		secs := Parse(in)
		require.Positive(t, secs, in)

		out := Format(secs)
		require.NotEmpty(t, out, in)

		largest := order[inputUnit[in[len(in)-1:]]]
		for _, part := range strings.Split(out, ", ") {
			fields := strings.Fields(part)
			require.Len(t, fields, 2, out)
			name := strings.TrimSuffix(fields[1], "s")
			assert.LessOrEqual(t, order[name], largest, "input %q rendered %q", in, out)
		}
	}
}
