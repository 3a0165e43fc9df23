// Package humandur converts short human duration strings ("45m", "7d",
// "1h30m") into whole seconds and renders seconds back into phrases such as
// "1 day, 1 hour".
package humandur

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned by ParseStrict for input that Parse maps to <= 0.
var ErrInvalid = errors.New("invalid duration")

const (
	Second int64 = 1
	Minute       = 60 * Second
	Hour         = 60 * Minute
	Day          = 24 * Hour

	// MaxSeconds keeps results convertible to time.Duration.
	MaxSeconds = math.MaxInt64 / int64(time.Second)
)

var (
	wholeRe = regexp.MustCompile(`^(?:\d+\s*[dhms]\s*)+$`)
	tokenRe = regexp.MustCompile(`(\d+)\s*([dhms])`)
)

var unitSeconds = map[string]int64{
	"d": Day,
	"h": Hour,
	"m": Minute,
	"s": Second,
}

// Parse returns the number of seconds described by input, or 0 when input
// is malformed. Callers treat any result <= 0 as invalid.
func Parse(input string) int64 {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" || !wholeRe.MatchString(s) {
		return 0
	}
	var total int64
	for _, m := range tokenRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0
		}
		mul := unitSeconds[m[2]]
		if n > MaxSeconds/mul {
			return 0
		}
		v := n * mul
		if total > MaxSeconds-v {
			return 0
		}
		total += v
	}
	return total
}

// ParseStrict is Parse with an error instead of a sentinel.
func ParseStrict(input string) (int64, error) {
	n := Parse(input)
	if n <= 0 {
		return 0, ErrInvalid
	}
	return n, nil
}

var units = []struct {
	size int64
	name string
}{
	{Day, "day"},
	{Hour, "hour"},
	{Minute, "minute"},
	{Second, "second"},
}

// Format renders seconds largest unit first. Zero and negative values render
// as "0 seconds".
func Format(seconds int64) string {
	if seconds <= 0 {
		return "0 seconds"
	}
	parts := make([]string, 0, len(units))
	rem := seconds
	for _, u := range units {
		n := rem / u.size
		if n == 0 {
			continue
		}
		rem -= n * u.size
		parts = append(parts, plural(n, u.name))
	}
	return strings.Join(parts, ", ")
}

func plural(n int64, name string) string {
	s := strconv.FormatInt(n, 10) + " " + name
	if n != 1 {
		s += "s"
	}
	return s
}
