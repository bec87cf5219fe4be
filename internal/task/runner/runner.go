package runner

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/eventbus"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/batch"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/job"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

type State int

const (
	Unarmed State = iota
	Armed
	Executing
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Executing:
		return "executing"
	default:
		return "unarmed"
	}
}

// coverage tracks which elements of a set are still unserviced for one
// generation of a window.
type coverage struct {
	gen  uint64
	left map[string]struct{}
}

func (c *coverage) reset(items []string) {
	c.gen++
	c.left = make(map[string]struct{}, len(items))
	for _, it := range items {
		c.left[it] = struct{}{}
	}
}

// mark reports whether the set became fully covered by this call.
func (c *coverage) mark(gen uint64, item string) bool {
	if gen != c.gen {
		return false
	}
	if _, ok := c.left[item]; !ok {
		return false
	}
	delete(c.left, item)
	return len(c.left) == 0
}

type Runner struct {
	svc  *Service
	spec Spec
	log  logx.Logger
	job  *job.Recurring

	targetsKey string
	membersKey string

	tickMu   sync.Mutex
	mu       sync.Mutex
	started  bool
	targets  coverage
	members  coverage
	inflight atomic.Int64
}

func newRunner(s *Service, spec Spec) *Runner {
	log := s.log.With(logx.Job(spec.ID))
	r := &Runner{
		svc:        s,
		spec:       spec,
		log:        log,
		targetsKey: spec.ID + "-targets",
		membersKey: spec.ID + "-members",
	}
	r.job = job.New(spec.ID, s.deps.Timers,
		job.WithLogger(s.log),
		job.WithContext(s.deps.Context),
		job.WithFatalHandler(r.fatal),
	)
	return r
}

func (r *Runner) ID() string         { return r.spec.ID }
func (r *Runner) Targets() []string  { return slices.Clone(r.spec.Targets) }
func (r *Runner) Job() *job.Recurring { return r.job }
func (r *Runner) Schedule() string {
	if s := r.job.Spec(); s != "" {
		return s
	}
	return r.spec.Schedule
}

// QueueKey is the serial queue key for one target of this job.
func (r *Runner) QueueKey(target string) string { return r.spec.ID + "-" + target }

func (r *Runner) State() State {
	if r.inflight.Load() > 0 {
		return Executing
	}
	if r.job.Armed() {
		return Armed
	}
	return Unarmed
}

// Start seeds both windows in the registry (first registration wins) and
// arms the job.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	reg := r.svc.deps.Registry
	targets := r.spec.Targets
	if _, err := batch.Ensure(reg, r.targetsKey, func() ([]string, error) { return targets, nil }, r.spec.TargetsBatch); err != nil {
		return fmt.Errorf("job %s: targets window: %w", r.spec.ID, err)
	}
	if _, err := batch.Ensure(reg, r.membersKey, r.spec.Members, r.spec.MembersBatch); err != nil {
		return fmt.Errorf("job %s: members window: %w", r.spec.ID, err)
	}
	window, err := batch.Current[string](reg, r.targetsKey)
	if err != nil {
		return err
	}
	r.targets.reset(window)
	r.members.reset(r.spec.Targets)

	if err := r.job.Arm(r.spec.Schedule, r.tick); err != nil {
		return err
	}
	r.started = true
	return nil
}

// Tick runs the tick handler once for every static target.
func (r *Runner) Tick() error { return r.tick(r.svc.deps.Context) }

// TickTarget runs the tick handler for a single target and reports whether
// a body was submitted.
func (r *Runner) TickTarget(target string) (bool, error) {
	n, err := r.dispatch(r.svc.deps.Context, []string{target})
	return n > 0, err
}

func (r *Runner) tick(ctx context.Context) error {
	_, err := r.dispatch(ctx, r.spec.Targets)
	return err
}

// dispatch is the synchronous part of a tick: read both windows, submit a
// body for every candidate in the targets window. Errors returned here are
// outside the body guard and therefore fatal for the job.
func (r *Runner) dispatch(ctx context.Context, candidates []string) (int, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	if r.spec.Ready != nil && !r.spec.Ready() {
		r.log.Debug("tick skipped: inputs not ready")
		return 0, nil
	}

	// windows and generations are read together so a concurrent advance
	// cannot pair a new generation with an old window
	r.mu.Lock()
	window, members, err := r.Window()
	tgen, mgen := r.targets.gen, r.members.gen
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, target := range candidates {
		if !slices.Contains(window, target) {
			r.svc.deps.Bus.Publish(eventbus.Event{Type: eventbus.TickSkipped, Data: eventbus.TaskEvent{JobID: r.spec.ID, Target: target}})
			continue
		}
		runID := uuid.NewString()
		r.inflight.Add(1)
		queued := r.svc.deps.Queue.Submit(r.QueueKey(target), r.task(runID, target, members, tgen, mgen))
		r.svc.deps.Bus.Publish(eventbus.Event{Type: eventbus.TaskQueued, Data: eventbus.TaskEvent{RunID: runID, JobID: r.spec.ID, Target: target}})
		if queued {
			r.log.Debug("task queued behind running body", logx.Target(target))
		}
		n++
	}
	return n, nil
}

func (r *Runner) task(runID, target string, members []string, tgen, mgen uint64) func(context.Context) error {
	return func(ctx context.Context) error {
		defer r.inflight.Add(-1)
		defer r.serviced(target, tgen, mgen)

		bus := r.svc.deps.Bus
		bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Data: eventbus.TaskEvent{RunID: runID, JobID: r.spec.ID, Target: target}})

		start := time.Now()
		err := r.runBody(ctx, target, members)
		took := time.Since(start)

		if err != nil {
			be := &BodyError{JobID: r.spec.ID, Target: target, Err: err}
			r.log.Warn("task failed", logx.Target(target), logx.RunID(runID), logx.Duration("took", took), logx.Err(err))
			bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: eventbus.TaskEvent{RunID: runID, JobID: r.spec.ID, Target: target, Took: took, Err: be}})
			return nil
		}
		r.log.Debug("task finished", logx.Target(target), logx.RunID(runID), logx.Duration("took", took), logx.Int("members", len(members)))
		bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: eventbus.TaskEvent{RunID: runID, JobID: r.spec.ID, Target: target, Took: took}})
		return nil
	}
}

func (r *Runner) runBody(ctx context.Context, target string, members []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = logx.Recovered(rec)
		}
	}()
	return r.spec.Body(ctx, target, members)
}

// serviced records target as done for the window generations it was
// dispatched under and advances whichever windows became fully covered.
func (r *Runner) serviced(target string, tgen, mgen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := r.svc.deps.Registry
	if r.targets.mark(tgen, target) {
		next, err := batch.Advance[string](reg, r.targetsKey)
		if err != nil {
			r.log.Error("advance targets failed", logx.Err(err))
		} else {
			r.targets.reset(next)
			r.published(r.targetsKey, next)
		}
	}
	if r.members.mark(mgen, target) {
		next, err := batch.Advance[string](reg, r.membersKey)
		if err != nil {
			r.log.Error("advance members failed", logx.Err(err))
		} else {
			r.members.reset(r.spec.Targets)
			r.published(r.membersKey, next)
		}
	}
}

func (r *Runner) published(key string, window []string) {
	info, _ := r.svc.deps.Registry.Info(key)
	r.log.Debug("window advanced", logx.String("key", key), logx.Int("index", info.WindowIndex), logx.Int("size", len(window)))
	r.svc.deps.Bus.Publish(eventbus.Event{Type: eventbus.WindowAdvanced, Data: eventbus.WindowEvent{JobID: r.spec.ID, Key: key, Index: info.WindowIndex, Window: len(window)}})
}

// Reschedule moves the runner's job to spec (stop, then re-create).
func (r *Runner) Reschedule(spec string) error {
	from := r.job.Spec()
	if err := r.job.Replace(spec); err != nil {
		return err
	}
	r.svc.deps.Bus.Publish(eventbus.Event{Type: eventbus.ScheduleReplaced, Data: eventbus.ScheduleEvent{JobID: r.spec.ID, From: from, To: spec, Next: r.job.Next()}})
	return nil
}

// RescheduleAt re-arms the job to fire daily at the wall-clock time of
// eventUnix plus the buffers, and returns the schedule used.
func (r *Runner) RescheduleAt(eventUnix int64, secondsBuffer, minutesBuffer int) (string, error) {
	spec := timer.RecomputeSchedule(eventUnix, secondsBuffer, minutesBuffer)
	return spec, r.Reschedule(spec)
}

func (r *Runner) fatal(jobID string, cause error, code int) {
	r.svc.deps.Bus.Publish(eventbus.Event{Type: eventbus.JobTerminated, Data: eventbus.TaskEvent{JobID: jobID, Err: cause}})
	if fn := r.svc.deps.OnFatal; fn != nil {
		fn(jobID, cause, code)
	}
}

// Window returns the live targets and members windows.
func (r *Runner) Window() (targets, members []string, err error) {
	reg := r.svc.deps.Registry
	if targets, err = batch.Current[string](reg, r.targetsKey); err != nil {
		return nil, nil, err
	}
	if members, err = batch.Current[string](reg, r.membersKey); err != nil {
		return nil, nil, err
	}
	return targets, members, nil
}
