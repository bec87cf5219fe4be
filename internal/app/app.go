// Package app wires the scheduler process: configuration, logging, the
// cache store, the notifier, timers, the serial queue, the shared snapshot
// and one runner per configured task. It also owns the fatal path that
// decides the process exit code.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/config"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/eventbus"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/notify"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/snapshot"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/storage"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/batch"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/runner"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/serial"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/tasks"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/tasks/pricealert"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/tasks/roundwatch"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// DefaultBuilders are the task kinds a config may name.
func DefaultBuilders() map[string]tasks.Builder {
	return map[string]tasks.Builder{
		pricealert.Kind: pricealert.New,
		roundwatch.Kind: roundwatch.New,
	}
}

type Option func(*App)

// WithBuilders replaces the task kinds available to the config.
func WithBuilders(b map[string]tasks.Builder) Option {
	return func(a *App) { a.builders = b }
}

type App struct {
	cfgm     *config.Manager
	builders map[string]tasks.Builder

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	notif  notify.Notifier
	timers *timer.Service
	queue  *serial.Queue

	shared    *snapshot.Shared
	refresher *snapshot.Refresher
	runners   *runner.Service

	// base outlives the supervisor so queued bodies can drain on Stop.
	base       context.Context
	cancelBase context.CancelFunc
	sup        *Supervisor
	drain      time.Duration

	fatalOnce sync.Once
	done      chan struct{}
	exitCode  int
	cause     error
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (_ *App, err error) {
	a := &App{builders: DefaultBuilders(), done: make(chan struct{})}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewManager(cfgPath)
	a.cfgm.SetValidator(a.validate)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}

	a.logs, a.log = logx.New(mapLogConfig(cfg))
	a.log = a.log.With(logx.String("comp", "app"))
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	loc, err := timer.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}
	if a.drain, err = drainTimeout(cfg); err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, a.component("storage")); err != nil {
		return nil, err
	}
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.notif, err = notify.New(nc, a.component("notify")); err != nil {
		return nil, err
	}

	a.bus = eventbus.New()
	a.base, a.cancelBase = context.WithCancel(context.Background())
	a.timers = timer.New(loc, a.component("timer"))
	a.queue = serial.New(a.base, serial.WithLogger(a.component("queue")))
	a.runners = runner.NewService(runner.Deps{
		Registry: batch.NewRegistry(),
		Queue:    a.queue,
		Timers:   a.timers,
		Bus:      a.bus,
		Logger:   a.component("runner"),
		OnFatal:  a.fatal,
		Context:  a.base,
	})

	snapTimeout, err := config.ParseDurationOrDefault("snapshot.timeout", cfg.Snapshot.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	a.shared = snapshot.NewShared(cfg.Snapshot.PrimaryToken)
	a.refresher = snapshot.NewRefresher(a.shared, snapshot.Config{
		ID:      cfg.SnapshotID(),
		Tokens:  cfg.Snapshot.Tokens,
		Prices:  snapshot.HTTPPrices{URL: cfg.Snapshot.PriceURL},
		Members: snapshot.HTTPMembers{URL: cfg.Snapshot.MembersURL, Token: cfg.Snapshot.MembersToken},
		Store:   a.store,
		Sink:    a.runners.ReplaceMembers,
		Bus:     a.bus,
		Logger:  a.component("snapshot"),
		Timeout: snapTimeout,
	})

	deps := tasks.Deps{
		Snapshot: a.shared,
		Store:    a.store,
		Notifier: a.notif,
		Logger:   a.component("tasks"),
	}
	for _, tc := range cfg.Tasks {
		if err := a.register(deps, tc); err != nil {
			return nil, err
		}
	}
	a.log.Info("app configured", logx.Int("tasks", len(cfg.Tasks)), logx.String("tz", loc.String()))
	return a, nil
}

func (a *App) component(name string) logx.Logger {
	return a.log.With(logx.String("comp", name))
}

func (a *App) register(deps tasks.Deps, tc config.TaskConfig) error {
	build, ok := a.builders[tc.Kind]
	if !ok {
		return fmt.Errorf("task %s: unknown kind %q", tc.ID, tc.Kind)
	}
	t, err := build(deps, tc.ID, tc.Options)
	if err != nil {
		return fmt.Errorf("task %s: %w", tc.ID, err)
	}
	r, err := a.runners.Register(runner.Spec{
		ID:           tc.ID,
		Schedule:     tc.Schedule,
		Targets:      tc.Targets,
		Members:      a.shared.Members,
		Body:         t.Body,
		TargetsBatch: tc.TargetsBatch,
		MembersBatch: tc.MembersBatch,
		Ready:        a.shared.Initialized,
	})
	if err != nil {
		return err
	}
	if err := t.Bind(r); err != nil {
		return fmt.Errorf("task %s: %w", tc.ID, err)
	}
	return nil
}

// validate runs on Load and on every hot reload, before the config is
// committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	parser := timer.New(time.UTC, logx.Nop())
	var errs []error
	if _, _, err := parser.Parse(cfg.Snapshot.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("snapshot.schedule: %w", err))
	}
	for i, tc := range cfg.Tasks {
		if _, ok := a.builders[tc.Kind]; !ok {
			errs = append(errs, fmt.Errorf("tasks[%d].kind: unknown kind %q", i, tc.Kind))
		}
		if _, _, err := parser.Parse(tc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d].schedule: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", config.ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (a *App) Runners() *runner.Service       { return a.runners }
func (a *App) Snapshot() *snapshot.Shared     { return a.shared }
func (a *App) Refresher() *snapshot.Refresher { return a.refresher }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Timers() *timer.Service         { return a.timers }
func (a *App) Logger() logx.Logger            { return a.log }

// Done is closed once the first job reports a fatal error or a shutdown.
func (a *App) Done() <-chan struct{} { return a.done }

// ExitCode is the process exit code decided by the first fatal report.
// It is 0 until one arrives.
func (a *App) ExitCode() int {
	select {
	case <-a.done:
		return a.exitCode
	default:
		return 0
	}
}

// Err returns the cause of the first fatal report, if any.
func (a *App) Err() error {
	select {
	case <-a.done:
		return a.cause
	default:
		return nil
	}
}

// fatal is the FatalFunc of every job. The first report wins; later ones
// (jobs terminated as a consequence) are only logged.
func (a *App) fatal(jobID string, cause error, code int) {
	first := false
	a.fatalOnce.Do(func() {
		first = true
		a.exitCode = code
		a.cause = cause
		close(a.done)
	})
	if !first {
		a.log.Debug("job terminated", logx.Job(jobID), logx.Err(cause))
		return
	}
	if code == 0 {
		a.log.Info("shutdown requested", logx.Job(jobID), logx.Err(cause))
		return
	}
	a.log.Error("fatal job error", logx.Job(jobID), logx.Err(cause), logx.Int("exit_code", code))
}

// Start performs the first snapshot refresh synchronously, arms every runner
// and the refresher, then starts the timers. A failed first refresh fails
// Start: no runner may tick before the snapshot exists.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, a.component("supervisor"))

	if err := a.refresher.Refresh(ctx); err != nil {
		return err
	}
	if err := a.runners.StartAll(); err != nil {
		return err
	}
	cfg := a.cfgm.Get()
	if err := a.refresher.Arm(a.base, a.timers, a.queue, cfg.Snapshot.Schedule, a.fatal); err != nil {
		return err
	}
	a.timers.Start()

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.cfgm.SetLogger(a.component("config"))
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("runners", len(a.runners.Runners())),
		logx.Strs("armed", a.timers.ArmedNames()),
	)
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.TaskEvent:
		a.log.Trace("event", logx.String("type", e.Type), logx.Job(d.JobID), logx.Target(d.Target), logx.RunID(d.RunID))
	case eventbus.WindowEvent:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("key", d.Key), logx.Int("index", d.Index))
	case eventbus.ScheduleEvent:
		a.log.Info("schedule replaced", logx.Job(d.JobID), logx.String("from", d.From), logx.String("to", d.To), logx.Time("next", d.Next))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// applyConfig applies the parts of a reload that can change live: logging
// and schedules. Everything else is logged as needing a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	ch, attrs := config.SummarizeConfigChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	for id, spec := range ch.Rescheduled {
		if err := a.reschedule(id, spec); err != nil {
			a.log.Warn("reschedule from config failed", logx.Job(id), logx.String("schedule", spec), logx.Err(err))
		}
	}
	for _, s := range ch.Sections {
		switch s {
		case "storage", "notifier", "scheduler":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if len(ch.Added) > 0 || len(ch.Removed) > 0 {
		a.log.Warn("task set changed; restart required", logx.Strs("added", ch.Added), logx.Strs("removed", ch.Removed))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) reschedule(id, spec string) error {
	if id == a.refresher.ID() {
		j := a.refresher.Job()
		if j == nil {
			return fmt.Errorf("snapshot job not armed")
		}
		return j.Replace(spec)
	}
	r, err := a.runners.Get(id)
	if err != nil {
		return err
	}
	return r.Reschedule(spec)
}

// Shutdown terminates every job with sig. The first job to report decides
// the exit code, which is 0 for a signal.
func (a *App) Shutdown(sig os.Signal) {
	a.runners.ShutdownAll(sig)
	if j := a.refresher.Job(); j != nil {
		j.Shutdown(sig)
	}
}

// Stop halts timers, drains queued bodies for at most the drain timeout and
// releases resources. It is safe to call after a failed Start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("timers", 5*time.Second, func(c context.Context) error { a.timers.Stop(c); return nil })
	step("queue", a.drain, a.queue.Wait)
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Stop)
	}
	a.log.Info("stopped", logx.Int("exit_code", a.ExitCode()))
	a.closeResources()
	return nil
}

func (a *App) closeResources() {
	if a.cancelBase != nil {
		a.cancelBase()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
