package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/eventbus"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/batch"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/job"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/serial"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

// Body is the business function for one target and the live members window.
type Body func(ctx context.Context, target string, members []string) error

// MemberSource seeds the members window on Start.
type MemberSource func() ([]string, error)

// Spec describes one task to register.
type Spec struct {
	ID       string
	Schedule string
	Targets  []string
	Members  MemberSource
	Body     Body

	// Window sizes; 0 means one window covering everything.
	TargetsBatch int
	MembersBatch int

	// Ready gates ticks until shared inputs are available. Nil means always ready.
	Ready func() bool
}

type Deps struct {
	Registry *batch.Registry
	Queue    *serial.Queue
	Timers   *timer.Service
	Bus      eventbus.Bus
	Logger   logx.Logger
	OnFatal  job.FatalFunc
	Context  context.Context
}

// Service registers runners and owns the set of live job identities.
type Service struct {
	deps Deps
	log  logx.Logger

	mu      sync.Mutex
	runners map[string]*Runner
}

func NewService(d Deps) *Service {
	if d.Registry == nil {
		d.Registry = batch.NewRegistry()
	}
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Queue == nil {
		d.Queue = serial.New(d.Context, serial.WithLogger(d.Logger))
	}
	if d.Timers == nil {
		d.Timers = timer.New(nil, d.Logger)
	}
	return &Service{deps: d, log: d.Logger, runners: map[string]*Runner{}}
}

func (s *Service) Registry() *batch.Registry { return s.deps.Registry }
func (s *Service) Queue() *serial.Queue       { return s.deps.Queue }

// Register validates spec and reserves its job identity. The runner stays
// unarmed until Start.
func (s *Service) Register(spec Spec) (*Runner, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	if _, _, err := s.deps.Timers.Parse(spec.Schedule); err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", ErrInvalidArgument, spec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runners[spec.ID]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateJobIdentity, spec.ID)
	}
	spec.Targets = append([]string(nil), spec.Targets...)
	r := newRunner(s, spec)
	s.runners[spec.ID] = r
	s.log.Debug("task registered", logx.Job(spec.ID), logx.Strs("targets", spec.Targets))
	return r, nil
}

func validate(spec Spec) error {
	id := spec.ID
	switch {
	case id == "":
		return fmt.Errorf("%w: job identity required", ErrInvalidArgument)
	case strings.IndexFunc(id, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: job identity %q contains whitespace", ErrInvalidArgument, id)
	case len(spec.Targets) == 0:
		return fmt.Errorf("%w: job %s: targets required", ErrInvalidArgument, id)
	case spec.Members == nil:
		return fmt.Errorf("%w: job %s: member source required", ErrInvalidArgument, id)
	case spec.Body == nil:
		return fmt.Errorf("%w: job %s: body required", ErrInvalidArgument, id)
	case spec.TargetsBatch < 0 || spec.MembersBatch < 0:
		return fmt.Errorf("%w: job %s: negative batch size", ErrInvalidArgument, id)
	}
	seen := make(map[string]struct{}, len(spec.Targets))
	for _, t := range spec.Targets {
		if t == "" {
			return fmt.Errorf("%w: job %s: empty target", ErrInvalidArgument, id)
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: job %s: duplicate target %q", ErrInvalidArgument, id, t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

func (s *Service) Get(id string) (*Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return r, nil
}

// Runners returns all registered runners ordered by job identity.
func (s *Service) Runners() []*Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Runner, 0, len(s.runners))
	for _, r := range s.runners {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].spec.ID < out[j].spec.ID })
	return out
}

// StartAll arms every registered runner, stopping at the first failure.
func (s *Service) StartAll() error {
	for _, r := range s.Runners() {
		if err := r.Start(); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll terminates every runner's job with sig.
func (s *Service) ShutdownAll(sig os.Signal) {
	for _, r := range s.Runners() {
		r.job.Shutdown(sig)
	}
}

// ReplaceMembers pushes a new member list into every started runner's
// members window. Per-runner failures are joined.
func (s *Service) ReplaceMembers(members []string) error {
	var errs []error
	for _, r := range s.Runners() {
		if !s.deps.Registry.Has(r.membersKey) {
			continue
		}
		if err := batch.ReplaceSource(s.deps.Registry, r.membersKey, members); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", r.spec.ID, err))
		}
	}
	return errors.Join(errs...)
}
