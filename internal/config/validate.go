package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks everything that can be checked without the network or
// parsing schedules. Schedules are validated by the timer service at
// registration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" && !strings.EqualFold(tz, "utc") {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}
	if _, err := ParseDurationField("scheduler.drain_timeout", c.Scheduler.DrainTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path is required for driver %q", c.Storage.Driver)
		}
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Notifier.Driver)) {
	case "", "log":
	case "http":
		if strings.TrimSpace(c.Notifier.URL) == "" {
			add("notifier.url is required for driver http")
		}
	default:
		add("notifier.driver: unknown driver %q", c.Notifier.Driver)
	}
	if _, err := ParseDurationField("notifier.timeout", c.Notifier.Timeout); err != nil {
		errs = append(errs, err)
	}

	s := c.Snapshot
	if strings.TrimSpace(s.Schedule) == "" {
		add("snapshot.schedule is required")
	}
	if strings.TrimSpace(s.MembersURL) == "" {
		add("snapshot.members_url is required")
	}
	if len(s.Tokens) > 0 && strings.TrimSpace(s.PriceURL) == "" {
		add("snapshot.price_url is required when tokens are set")
	}
	if p := strings.TrimSpace(s.PrimaryToken); p != "" && !contains(s.Tokens, p) {
		add("snapshot.primary_token %q is not in snapshot.tokens", p)
	}
	if _, err := ParseDurationField("snapshot.timeout", s.Timeout); err != nil {
		errs = append(errs, err)
	}

	ids := map[string]struct{}{c.SnapshotID(): {}}
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		switch {
		case t.ID == "":
			add("%s.id is required", path)
		case strings.IndexFunc(t.ID, unicode.IsSpace) >= 0:
			add("%s.id %q must not contain whitespace", path, t.ID)
		default:
			if _, dup := ids[t.ID]; dup {
				add("%s.id %q is used twice", path, t.ID)
			}
			ids[t.ID] = struct{}{}
		}
		if strings.TrimSpace(t.Kind) == "" {
			add("%s.kind is required", path)
		}
		if strings.TrimSpace(t.Schedule) == "" {
			add("%s.schedule is required", path)
		}
		if len(t.Targets) == 0 {
			add("%s.targets must not be empty", path)
		}
		if t.TargetsBatch < 0 || t.MembersBatch < 0 {
			add("%s: batch sizes must be >= 0", path)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// SnapshotID is the job identity of the snapshot refresher.
func (c *Config) SnapshotID() string {
	if id := strings.TrimSpace(c.Snapshot.ID); id != "" {
		return id
	}
	return "main-service"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
