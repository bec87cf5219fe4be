// Package serial runs tasks one at a time per key.
//
// Submit never blocks: when nothing is running for a key the task starts on
// a new goroutine, otherwise it is appended to the key's FIFO and executed by
// the goroutine that is already draining that key. Keys are independent.
package serial

import (
	"context"
	"sync"

	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// Task is one unit of work for a key.
type Task func(ctx context.Context) error

// ErrorHandler receives failures (including recovered panics) of tasks.
type ErrorHandler func(key string, err error)

// Queue serializes tasks per key. The zero value is not usable; use New.
type Queue struct {
	ctx context.Context
	log logx.Logger

	mu      sync.Mutex
	pending map[string][]Task // present => a drainer is running for key
	onErr   ErrorHandler

	wg sync.WaitGroup
}

type Option func(*Queue)

// WithErrorHandler installs the hook that receives task failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(q *Queue) { q.onErr = h }
}

func WithLogger(log logx.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// New creates a queue. ctx is handed to every task; cancelling it does not
// drop queued tasks, they still run and observe the cancelled context.
func New(ctx context.Context, opts ...Option) *Queue {
	if ctx == nil {
		ctx = context.Background()
	}
	q := &Queue{ctx: ctx, pending: map[string][]Task{}}
	for _, o := range opts {
		o(q)
	}
	if q.log.IsZero() {
		q.log = logx.Nop()
	}
	return q
}

// Submit runs t for key, after every task previously submitted for key.
// It reports whether t had to wait behind an in-flight task.
func (q *Queue) Submit(key string, t Task) bool {
	if t == nil {
		return false
	}
	q.mu.Lock()
	if list, busy := q.pending[key]; busy {
		q.pending[key] = append(list, t)
		n := len(q.pending[key])
		q.mu.Unlock()
		q.log.Debug("task queued", logx.String("key", key), logx.Int("pending", n))
		return true
	}
	q.pending[key] = nil
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain(key, t)
	return false
}

func (q *Queue) drain(key string, t Task) {
	defer q.wg.Done()
	for {
		q.runOne(key, t)

		q.mu.Lock()
		list := q.pending[key]
		if len(list) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		t = list[0]
		list[0] = nil
		q.pending[key] = list[1:]
		q.mu.Unlock()
	}
}

func (q *Queue) runOne(key string, t Task) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = logx.Recovered(r)
			}
		}()
		err = t(q.ctx)
	}()
	if err == nil {
		return
	}
	q.mu.Lock()
	h := q.onErr
	q.mu.Unlock()
	if h != nil {
		h(key, err)
		return
	}
	q.log.Warn("task failed", logx.String("key", key), logx.Err(err))
}

// Busy reports whether a task for key is running.
func (q *Queue) Busy(key string) bool {
	q.mu.Lock()
	_, ok := q.pending[key]
	q.mu.Unlock()
	return ok
}

// Pending returns how many tasks wait behind the running one for key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	n := len(q.pending[key])
	q.mu.Unlock()
	return n
}

// Wait blocks until every key is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
