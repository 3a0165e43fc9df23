// Package eventbus is a small in-memory fanout used to decouple the task
// engine and scheduler from observers (metrics, ops endpoints).
//
// Publish never blocks. Subscribers get buffered channels and slow ones drop
// events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the task subsystem.
const (
	TaskArmed     = "task.armed"
	TaskFired     = "task.fired"
	TaskCancelled = "task.cancelled"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	TaskDropped   = "task.dropped"
	TaskRecovered = "task.recovered"

	EngineStarted  = "engine.started"
	EngineFinished = "engine.finished"
	EngineFailed   = "engine.failed"
	EngineDropped  = "engine.dropped"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock guarantees no Publish is mid-send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
