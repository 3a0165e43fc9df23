// Package task holds the deferred task model shared by the ledger, the
// scheduler, recovery and the handler bridge.
package task

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Well-known action kinds.
const (
	KindReminder       = "reminder"
	KindScheduledUnban = "scheduled-unban"
)

// MaxDelay is the largest delay in seconds that still fits a time.Duration.
const MaxDelay = math.MaxInt64 / int64(time.Second)

// TargetReminder marks rows whose subject is the reminder itself.
const TargetReminder = "REMINDER_TASK"

// HandlerRef names the code that runs when a task fires. It is serializable
// so a restarted process can resolve it against the handlers registered at
// startup.
type HandlerRef struct {
	Module   string
	Function string

	// TaskID pins the invocation to one ledger row. Empty means the handler
	// falls back to the most recent row of the action kind.
	TaskID string

	Args []string
}

// String renders "module:function", the form stored in the ledger.
func (r HandlerRef) String() string {
	return r.Module + ":" + r.Function
}

func (r HandlerRef) IsZero() bool { return r.Module == "" && r.Function == "" }

// WithTask returns a copy of r bound to id.
func (r HandlerRef) WithTask(id string) HandlerRef {
	r.TaskID = id
	return r
}

// ParseHandlerRef parses "module:function".
func ParseHandlerRef(s string) (HandlerRef, error) {
	mod, fn, ok := strings.Cut(strings.TrimSpace(s), ":")
	mod = strings.TrimSpace(mod)
	fn = strings.TrimSpace(fn)
	if !ok || mod == "" || fn == "" {
		return HandlerRef{}, fmt.Errorf("invalid handler ref %q", s)
	}
	return HandlerRef{Module: mod, Function: fn}, nil
}

// Payload is the task specific data bundle. Values are strings or numbers.
type Payload map[string]any

func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// Int64 reads key as an integer. Strings holding digits are accepted.
func (p Payload) Int64(key string) (int64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// EncodePayload serializes p as one JSON text blob.
func EncodePayload(p Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodePayload is the inverse of EncodePayload. Numbers decode as
// json.Number so large ids survive.
func DecodePayload(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Payload{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// DeferredTask is one pending unit of scheduled work. Presence in the ledger
// means pending; there is no status field.
type DeferredTask struct {
	ID          string
	GuildScope  string
	RequesterID string
	TargetID    string
	Kind        string
	Handler     HandlerRef
	Payload     Payload
	CreatedAt   time.Time
	DueAt       time.Time
}

// Ref returns the handler reference bound to this row.
func (t DeferredTask) Ref() HandlerRef {
	return t.Handler.WithTask(t.ID)
}

// Remaining is the time left until DueAt, never negative.
func (t DeferredTask) Remaining(now time.Time) time.Duration {
	d := t.DueAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Input is what a command hands the ledger. The ledger assigns ID and
// CreatedAt and derives DueAt from Delay.
type Input struct {
	GuildScope  string
	RequesterID string
	TargetID    string
	Kind        string
	Handler     HandlerRef
	Payload     Payload

	// Delay in seconds; must be in (0, MaxDelay].
	Delay int64
}
