package timer

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Handle is one recurring timer. Its schedule never changes after Create.
type Handle struct {
	svc   *Service
	name  string
	spec  string
	expr  string
	sched cron.Schedule
	job   cron.Job

	entryID cron.EntryID // guarded by svc.mu
}

func (h *Handle) Name() string { return h.name }

// Spec returns the schedule string the handle was created with.
func (h *Handle) Spec() string { return h.spec }

// Start re-arms the handle's schedule. It is a no-op when already armed.
func (h *Handle) Start() error { return h.svc.arm(h) }

// Stop disarms the handle. Future matches are dropped; a callback already
// running is not interrupted. It reports whether the handle was armed.
func (h *Handle) Stop() bool { return h.svc.disarm(h) }

func (h *Handle) Armed() bool {
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()
	return h.entryID != 0
}

// Next returns the next fire time, or zero when disarmed.
func (h *Handle) Next() time.Time { return h.svc.next(h) }
