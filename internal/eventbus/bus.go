// Package eventbus is an in-memory fanout of scheduler lifecycle events.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber drops events instead of stalling a tick.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TaskQueued        = "task.queued"
	TaskStarted       = "task.started"
	TaskFinished      = "task.finished"
	TaskFailed        = "task.failed"
	TickSkipped       = "tick.skipped"
	WindowAdvanced    = "window.advanced"
	ScheduleReplaced  = "schedule.replaced"
	SnapshotRefreshed = "snapshot.refreshed"
	SnapshotFailed    = "snapshot.failed"
	JobTerminated     = "job.terminated"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// TaskEvent is the payload of task.* and tick.* events.
type TaskEvent struct {
	RunID  string
	JobID  string
	Target string
	Took   time.Duration
	Err    error
}

// WindowEvent is the payload of window.advanced.
type WindowEvent struct {
	JobID  string
	Key    string
	Index  int
	Window int
}

// ScheduleEvent is the payload of schedule.replaced.
type ScheduleEvent struct {
	JobID string
	From  string
	To    string
	Next  time.Time
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
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
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
