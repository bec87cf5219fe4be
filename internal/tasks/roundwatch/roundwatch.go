// Package roundwatch follows irregularly timed rounds (lottery draws,
// prediction epochs). Each tick notifies the members who took part in the
// latest finished round, then moves the runner's timer to fire shortly after
// the next round ends.
package roundwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/config"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/notify"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/runner"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/tasks"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

const Kind = "roundwatch"

type Options struct {
	// URL returns the latest round; "{target}" is replaced with the target.
	URL           string `json:"url"`
	SecondsBuffer int    `json:"seconds_buffer,omitempty"`
	MinutesBuffer int    `json:"minutes_buffer,omitempty"`
	Type          string `json:"type,omitempty"`
	Title         string `json:"title,omitempty"`
	Link          string `json:"link,omitempty"`
	DedupFor      string `json:"dedup_for,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

// Round is the JSON shape served at Options.URL.
type Round struct {
	ID           string   `json:"id"`
	EndTime      int64    `json:"end_time"`
	NextEndTime  int64    `json:"next_end_time,omitempty"`
	Status       string   `json:"status"`
	Participants []string `json:"participants"`
}

type Task struct {
	jobID  string
	deps   tasks.Deps
	opts   Options
	dedup  time.Duration
	client *http.Client
	log    logx.Logger
	runner *runner.Runner
}

func New(d tasks.Deps, jobID string, raw json.RawMessage) (tasks.Task, error) {
	o := Options{SecondsBuffer: 30}
	if err := tasks.DecodeOptions(raw, &o); err != nil {
		return nil, err
	}
	if strings.TrimSpace(o.URL) == "" {
		return nil, errors.New("roundwatch: options.url required")
	}
	if o.Type == "" {
		o.Type = "alerts"
	}
	if o.Title == "" {
		o.Title = "Round %s results are in"
	}
	dedup, err := config.ParseDurationOrDefault("options.dedup_for", o.DedupFor, 48*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("roundwatch: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("options.timeout", o.Timeout, 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("roundwatch: %w", err)
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	return &Task{
		jobID:  jobID,
		deps:   d,
		opts:   o,
		dedup:  dedup,
		client: &http.Client{Timeout: timeout},
		log:    d.Logger.With(logx.Job(jobID)),
	}, nil
}

// Bind attaches the runner whose timer each tick re-arms. A runner has one
// schedule, so it can follow a single round series only.
func (t *Task) Bind(r *runner.Runner) error {
	if n := len(r.Targets()); n != 1 {
		return fmt.Errorf("roundwatch: exactly one target required, got %d", n)
	}
	t.runner = r
	return nil
}

func (t *Task) dedupKey(target, roundID, member string) string {
	return t.jobID + "-" + target + "-" + roundID + "-" + strings.ToLower(member)
}

func (t *Task) Body(ctx context.Context, target string, members []string) error {
	round, err := t.fetch(ctx, target)
	if err != nil {
		return err
	}

	if err := t.notifyParticipants(ctx, target, round, members); err != nil {
		return err
	}

	next := round.NextEndTime
	if next == 0 {
		next = round.EndTime
	}
	if t.runner == nil || next == 0 {
		return nil
	}
	spec := timer.RecomputeSchedule(next, t.opts.SecondsBuffer, t.opts.MinutesBuffer)
	if spec == t.runner.Schedule() {
		return nil
	}
	if err := t.runner.Reschedule(spec); err != nil {
		return fmt.Errorf("reschedule after round %s: %w", round.ID, err)
	}
	t.log.Debug("next round armed", logx.Target(target), logx.String("spec", spec), logx.Int64("round_end", next))
	return nil
}

func (t *Task) notifyParticipants(ctx context.Context, target string, round Round, members []string) error {
	if round.ID == "" || !strings.EqualFold(round.Status, "claimable") {
		return nil
	}
	played := make(map[string]struct{}, len(round.Participants))
	for _, p := range round.Participants {
		played[strings.ToLower(p)] = struct{}{}
	}

	var due []string
	for _, m := range members {
		if _, ok := played[strings.ToLower(m)]; !ok {
			continue
		}
		sent, err := t.deps.Store.Exists(ctx, t.dedupKey(target, round.ID, m))
		if err != nil {
			return err
		}
		if !sent {
			due = append(due, m)
		}
	}
	if len(due) == 0 {
		return nil
	}

	n := notify.Notification{
		Type:     t.opts.Type,
		Title:    fmt.Sprintf(t.opts.Title, round.ID),
		Body:     "Check whether you won and claim your rewards.",
		URL:      t.opts.Link,
		Accounts: due,
	}
	if err := t.deps.Notifier.Send(ctx, n); err != nil {
		return err
	}
	for _, m := range due {
		if err := t.deps.Store.Set(ctx, t.dedupKey(target, round.ID, m), []byte{1}, t.dedup); err != nil {
			return err
		}
	}
	t.log.Info("round notified", logx.Target(target), logx.String("round", round.ID), logx.Int("accounts", len(due)))
	return nil
}

func (t *Task) fetch(ctx context.Context, target string) (Round, error) {
	u := strings.ReplaceAll(t.opts.URL, "{target}", url.PathEscape(target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Round{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return Round{}, fmt.Errorf("fetch round: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Round{}, fmt.Errorf("fetch round: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var r Round
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Round{}, fmt.Errorf("decode round: %w", err)
	}
	return r, nil
}
