// Package tasks holds what business task bodies share: their collaborators
// and the contract the app uses to register them.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/notify"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/snapshot"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/storage"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/runner"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

type Deps struct {
	Snapshot *snapshot.Shared
	Store    storage.Store
	Notifier notify.Notifier
	Logger   logx.Logger
}

// Task is a business body bound to one runner.
type Task interface {
	Body(ctx context.Context, target string, members []string) error
	// Bind is called once the runner exists, before it starts. An error
	// rejects the task configuration.
	Bind(r *runner.Runner) error
}

// Builder constructs a task from its raw options.
type Builder func(d Deps, jobID string, options json.RawMessage) (Task, error)

// DecodeOptions strictly decodes raw into out; empty raw leaves out untouched.
func DecodeOptions(raw json.RawMessage, out any) error {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("task options: %w", err)
	}
	return nil
}
