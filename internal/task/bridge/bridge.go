// Package bridge resolves serialized handler references to the Go code that
// runs when a deferred task fires.
//
// Handlers are registered at startup under (module, function). Ledger rows
// store the reference as text, so a restarted process finds the same code
// without any closure surviving the restart.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mycelium/internal/task"
	logx "mycelium/pkg/logx"
)

// Invocation is what a handler receives at fire time.
type Invocation struct {
	Kind string
	Ref  task.HandlerRef
}

// Handler performs the effect of a fired task.
type Handler func(ctx context.Context, inv Invocation) error

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{handlers: map[string]Handler{}, log: log.With(logx.String("comp", "bridge"))}
}

func key(module, function string) string {
	return strings.TrimSpace(module) + ":" + strings.TrimSpace(function)
}

// Register binds (module, function) to h and returns the reference commands
// should store. Registering the same pair twice replaces the handler, which
// is how a reloaded feature swaps its code in.
func (r *Registry) Register(module, function string, h Handler) task.HandlerRef {
	if strings.TrimSpace(module) == "" || strings.TrimSpace(function) == "" || h == nil {
		panic("bridge: Register requires module, function and handler")
	}
	k := key(module, function)
	r.mu.Lock()
	_, replaced := r.handlers[k]
	r.handlers[k] = h
	r.mu.Unlock()
	if replaced {
		r.log.Info("handler replaced", logx.String("ref", k))
	}
	return task.HandlerRef{Module: strings.TrimSpace(module), Function: strings.TrimSpace(function)}
}

func (r *Registry) Lookup(ref task.HandlerRef) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[key(ref.Module, ref.Function)]
	r.mu.RUnlock()
	return h, ok
}

// Refs lists registered references, sorted.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Invoke runs the handler for ref. Any failure comes back as a
// *task.HandlerError; task.Definitive markers are preserved through Unwrap.
func (r *Registry) Invoke(ctx context.Context, kind string, ref task.HandlerRef) error {
	h, ok := r.Lookup(ref)
	if !ok {
		// Nothing will ever be able to run this row in this build.
		return &task.HandlerError{Ref: ref, Kind: kind, TaskID: ref.TaskID, Err: task.Definitive(task.ErrUnknownHandler)}
	}
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return h(ctx, Invocation{Kind: kind, Ref: ref})
	}()
	if err == nil {
		return nil
	}
	var he *task.HandlerError
	if errors.As(err, &he) {
		return err
	}
	return &task.HandlerError{Ref: ref, Kind: kind, TaskID: ref.TaskID, Err: err}
}
