// Package pricealert notifies members when a chain's token price moved by
// more than a threshold since the last alert.
package pricealert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/config"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/notify"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/storage"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/runner"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/tasks"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

const Kind = "pricealert"

// Options are the task's "options" block.
type Options struct {
	// Tokens maps a target (chain id) to the snapshot token it tracks.
	Tokens       map[string]string `json:"tokens"`
	Symbols      map[string]string `json:"symbols,omitempty"`
	ThresholdPct float64           `json:"threshold_pct,omitempty"`
	SuppressFor  string            `json:"suppress_for,omitempty"`
	Type         string            `json:"type,omitempty"`
	URL          string            `json:"url,omitempty"`
}

type Task struct {
	jobID     string
	deps      tasks.Deps
	opts      Options
	threshold decimal.Decimal
	suppress  time.Duration
	log       logx.Logger
}

var hundred = decimal.NewFromInt(100)

func New(d tasks.Deps, jobID string, raw json.RawMessage) (tasks.Task, error) {
	var o Options
	if err := tasks.DecodeOptions(raw, &o); err != nil {
		return nil, err
	}
	if len(o.Tokens) == 0 {
		return nil, errors.New("pricealert: options.tokens required")
	}
	if o.ThresholdPct <= 0 {
		o.ThresholdPct = 2
	}
	if o.Type == "" {
		o.Type = "alerts"
	}
	suppress, err := config.ParseDurationOrDefault("options.suppress_for", o.SuppressFor, 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("pricealert: suppress_for: %w", err)
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	return &Task{
		jobID:     jobID,
		deps:      d,
		opts:      o,
		threshold: decimal.NewFromFloat(o.ThresholdPct),
		suppress:  suppress,
		log:       d.Logger.With(logx.Job(jobID)),
	}, nil
}

func (t *Task) Bind(*runner.Runner) error { return nil }

func lastPriceKey(token, target string) string { return "latestPrice-" + token + "-" + target }

func (t *Task) suppressKey(target, token string) string {
	return t.jobID + "-" + target + "-" + token
}

func (t *Task) Body(ctx context.Context, target string, members []string) error {
	token, ok := t.opts.Tokens[target]
	if !ok {
		return fmt.Errorf("no token configured for target %s", target)
	}
	price, ok, err := t.deps.Snapshot.PriceOf(token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("snapshot has no price for %s", token)
	}

	var last decimal.Decimal
	seen, err := storage.GetJSON(ctx, t.deps.Store, lastPriceKey(token, target), &last)
	if err != nil {
		return err
	}
	if !seen || last.IsZero() {
		return storage.SetJSON(ctx, t.deps.Store, lastPriceKey(token, target), price, 0)
	}

	change := price.Sub(last).Div(last).Mul(hundred)
	if change.Abs().LessThan(t.threshold) {
		return nil
	}
	suppressed, err := t.deps.Store.Exists(ctx, t.suppressKey(target, token))
	if err != nil {
		return err
	}
	if suppressed {
		t.log.Debug("alert suppressed", logx.Target(target), logx.String("change", change.StringFixed(2)))
		return nil
	}

	if err := t.deps.Notifier.Send(ctx, t.notification(target, token, price, change, members)); err != nil {
		return err
	}
	if err := t.deps.Store.Set(ctx, t.suppressKey(target, token), []byte{1}, t.suppress); err != nil {
		return err
	}
	return storage.SetJSON(ctx, t.deps.Store, lastPriceKey(token, target), price, 0)
}

func (t *Task) notification(target, token string, price, change decimal.Decimal, members []string) notify.Notification {
	symbol := t.opts.Symbols[target]
	if symbol == "" {
		symbol = strings.ToUpper(token)
	}
	dir := "up"
	if change.IsNegative() {
		dir = "down"
	}
	return notify.Notification{
		Type:     t.opts.Type,
		Title:    fmt.Sprintf("%s price %s %s%%", symbol, dir, change.Abs().StringFixed(2)),
		Body:     fmt.Sprintf("%s is now $%s", symbol, price.StringFixed(4)),
		URL:      t.opts.URL,
		Accounts: members,
	}
}
