package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

func TestPrintNext(t *testing.T) {
	t.Parallel()

	svc := timer.New(time.UTC, logx.Nop())
	from := time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC)

	var buf bytes.Buffer
	if err := printNext(&buf, svc, "5 1 12 * * *", from, 2); err != nil {
		t.Fatalf("printNext: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"schedule: 5 1 12 * * *",
		" 1. 2024-03-01T12:01:05Z",
		" 2. 2024-03-02T12:01:05Z",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNextCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"interval", []string{"scheduler", "next", "--count", "1", "every:15m"}, "(@every 15m0s)"},
		{"at", []string{"scheduler", "next", "--at", "1700000000", "--seconds", "30", "--count", "1"}, "schedule: CRON_TZ=UTC 50 13 22 * * *"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			app := newApp()
			app.Writer = &buf
			if err := app.Run(tc.args); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Fatalf("output missing %q:\n%s", tc.want, buf.String())
			}
		})
	}
}

func TestNextRequiresSchedule(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	if err := app.Run([]string{"scheduler", "next"}); err == nil {
		t.Fatalf("expected an error without a schedule")
	}
}
