// Package job binds a job identity to a timer handle and a fatal policy.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// Callback runs on every cron match. A returned error is fatal for the job.
type Callback func(ctx context.Context) error

// FatalFunc is the process-level call-out invoked once when a job terminates.
type FatalFunc func(jobID string, cause error, exitCode int)

var ErrTerminated = errors.New("job terminated")

type Option func(*Recurring)

func WithLogger(l logx.Logger) Option { return func(r *Recurring) { r.log = l } }

// WithFatalHandler sets the call-out for Fail and Shutdown.
func WithFatalHandler(fn FatalFunc) Option { return func(r *Recurring) { r.onFatal = fn } }

// WithContext sets the context passed to every callback.
func WithContext(ctx context.Context) Option { return func(r *Recurring) { r.ctx = ctx } }

// Recurring is one named recurring job. At most one timer is armed for its
// identity at any time; schedule changes go through Replace.
type Recurring struct {
	id      string
	timers  *timer.Service
	log     logx.Logger
	onFatal FatalFunc
	ctx     context.Context

	mu         sync.Mutex
	handle     *timer.Handle
	cb         Callback
	terminated bool
	cause      error

	tickMu sync.Mutex
}

func New(id string, timers *timer.Service, opts ...Option) *Recurring {
	r := &Recurring{id: id, timers: timers, ctx: context.Background()}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.Job(id))
	return r
}

func (r *Recurring) ID() string { return r.id }

// Arm creates the job's timer for spec. Arming an armed job is an error.
func (r *Recurring) Arm(spec string, cb Callback) error {
	if cb == nil {
		return fmt.Errorf("job %s: callback required", r.id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return fmt.Errorf("job %s: %w", r.id, ErrTerminated)
	}
	if r.handle != nil && r.handle.Armed() {
		return fmt.Errorf("job %s: %w", r.id, timer.ErrAlreadyArmed)
	}
	h, err := r.timers.Create(r.id, spec, r.fire)
	if err != nil {
		return err
	}
	r.handle = h
	r.cb = cb
	r.log.Info("armed", logx.String("spec", spec), logx.Time("next", h.Next()))
	return nil
}

// Replace moves the job to a new schedule: the current timer is stopped and a
// new one created. When spec is invalid the old timer is re-armed and the
// parse error returned.
func (r *Recurring) Replace(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return fmt.Errorf("job %s: %w", r.id, ErrTerminated)
	}
	if r.cb == nil {
		return fmt.Errorf("job %s: not armed", r.id)
	}
	if _, _, err := r.timers.Parse(spec); err != nil {
		return err
	}
	old := r.handle
	prev := ""
	if old != nil {
		prev = old.Spec()
		old.Stop()
	}
	h, err := r.timers.Create(r.id, spec, r.fire)
	if err != nil {
		if old != nil {
			_ = old.Start()
		}
		return err
	}
	r.handle = h
	r.log.Info("schedule replaced", logx.String("from", prev), logx.String("to", spec), logx.Time("next", h.Next()))
	return nil
}

// Disarm stops the timer without terminating the job; Start re-arms it.
func (r *Recurring) Disarm() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle == nil {
		return false
	}
	return r.handle.Stop()
}

func (r *Recurring) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return fmt.Errorf("job %s: %w", r.id, ErrTerminated)
	}
	if r.handle == nil {
		return fmt.Errorf("job %s: not armed", r.id)
	}
	return r.handle.Start()
}

func (r *Recurring) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle != nil && r.handle.Armed()
}

func (r *Recurring) Spec() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle == nil {
		return ""
	}
	return r.handle.Spec()
}

func (r *Recurring) Next() time.Time {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h == nil {
		return time.Time{}
	}
	return h.Next()
}

// Terminated returns the terminal cause, or nil while the job is alive.
func (r *Recurring) Terminated() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// Fail stops the job for good and reports err with exit code 1.
func (r *Recurring) Fail(err error) {
	var fe *FatalError
	if !errors.As(err, &fe) {
		err = &FatalError{JobID: r.id, Err: err}
	}
	r.terminate(err)
}

// Shutdown stops the job for good and reports sig with exit code 0.
func (r *Recurring) Shutdown(sig os.Signal) {
	r.terminate(&ShutdownError{JobID: r.id, Signal: sig})
}

func (r *Recurring) terminate(cause error) {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return
	}
	r.terminated = true
	r.cause = cause
	if r.handle != nil {
		r.handle.Stop()
	}
	fn := r.onFatal
	r.mu.Unlock()

	code := ExitCode(cause)
	if code == 0 {
		r.log.Info("stopped", logx.String("cause", cause.Error()))
	} else {
		r.log.Error("terminated", logx.Err(cause), logx.Int("exit_code", code))
	}
	if fn != nil {
		fn(r.id, cause, code)
	}
}

// fire runs one tick. Ticks of the same job never overlap: a match that
// arrives mid-callback waits for the previous one.
func (r *Recurring) fire() {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.mu.Lock()
	cb, dead := r.cb, r.terminated
	r.mu.Unlock()
	if dead || cb == nil {
		return
	}
	if err := r.invoke(cb); err != nil {
		r.Fail(err)
	}
}

// Tick runs the callback once outside the timer, with the same guards.
func (r *Recurring) Tick() error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.mu.Lock()
	cb, dead := r.cb, r.terminated
	r.mu.Unlock()
	if dead {
		return fmt.Errorf("job %s: %w", r.id, ErrTerminated)
	}
	if cb == nil {
		return fmt.Errorf("job %s: not armed", r.id)
	}
	err := r.invoke(cb)
	if err != nil {
		r.Fail(err)
	}
	return err
}

func (r *Recurring) invoke(cb Callback) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = logx.Recovered(rec)
		}
	}()
	return cb(r.ctx)
}
