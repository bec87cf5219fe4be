package timer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrAlreadyArmed    = errors.New("timer already armed")
)

// Service owns the cron instance all handles are armed on.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	armed   map[string]*Handle
	running bool
}

// New creates a timer service evaluating schedules in loc (UTC when nil).
func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		log:    log,
		loc:    loc,
		parser: parser,
		c:      cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		armed:  map[string]*Handle{},
	}
}

// LoadLocation resolves an IANA timezone name, defaulting to UTC.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "utc") {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

func (s *Service) Location() *time.Location { return s.loc }

// Start begins firing armed timers. Handles may be created before or after.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("armed", len(s.armed)))
}

// Stop halts firing. Callbacks already running are waited for until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	start := time.Now()
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Parse validates raw and returns the cron schedule it describes.
func (s *Service) Parse(raw string) (cron.Schedule, ParsedSpec, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return nil, ParsedSpec{}, err
	}
	sched, err := s.parser.Parse(ps.Expr())
	if err != nil {
		return nil, ParsedSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, raw, err)
	}
	return sched, ps, nil
}

// Preview returns the next n fire times of raw after from.
func (s *Service) Preview(raw string, from time.Time, n int) ([]time.Time, error) {
	sched, _, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from.In(s.loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// Armed reports whether a timer named name is currently armed.
func (s *Service) Armed(name string) bool {
	s.mu.Lock()
	_, ok := s.armed[name]
	s.mu.Unlock()
	return ok
}

// ArmedNames returns the names of all armed timers.
func (s *Service) ArmedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.armed))
	for name := range s.armed {
		out = append(out, name)
	}
	return out
}

// Create parses raw and arms a new timer calling fn on every match.
func (s *Service) Create(name, raw string, fn func()) (*Handle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("timer name required")
	}
	if fn == nil {
		return nil, errors.New("timer callback required")
	}
	sched, ps, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	h := &Handle{svc: s, name: name, spec: strings.TrimSpace(raw), expr: ps.Expr(), sched: sched, job: cron.FuncJob(fn)}
	if err := h.Start(); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) arm(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.armed[h.name]; ok {
		if cur == h {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrAlreadyArmed, h.name)
	}
	h.entryID = s.c.Schedule(h.sched, h.job)
	s.armed[h.name] = h
	s.log.Debug("timer armed", logx.String("name", h.name), logx.String("spec", h.expr))
	return nil
}

func (s *Service) disarm(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed[h.name] != h || h.entryID == 0 {
		return false
	}
	s.c.Remove(h.entryID)
	h.entryID = 0
	delete(s.armed, h.name)
	s.log.Debug("timer disarmed", logx.String("name", h.name))
	return true
}

func (s *Service) next(h *Handle) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.entryID == 0 {
		return time.Time{}
	}
	if e := s.c.Entry(h.entryID); !e.Next.IsZero() {
		return e.Next
	}
	return h.sched.Next(time.Now().In(s.loc))
}
