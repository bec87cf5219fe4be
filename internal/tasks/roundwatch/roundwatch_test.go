package roundwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/notify"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/storage"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/runner"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/task/timer"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/tasks"
	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

type outbox struct {
	mu sync.Mutex
	ns []notify.Notification
}

func (o *outbox) Send(_ context.Context, n notify.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ns = append(o.ns, n)
	return nil
}

func (o *outbox) all() []notify.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Notification(nil), o.ns...)
}

func TestRoundWatchNotifiesOnceAndRearms(t *testing.T) {
	t.Parallel()

	end := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix()
	var round atomic.Value
	round.Store(Round{ID: "412", EndTime: end - 3600, NextEndTime: end, Status: "claimable", Participants: []string{"0xA", "0xc"}})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rounds/56/latest" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(round.Load().(Round))
	}))
	defer srv.Close()

	out := &outbox{}
	task, err := New(tasks.Deps{Store: storage.NewMemory(), Notifier: out}, "lottery",
		json.RawMessage(fmt.Sprintf(`{"url":%q,"seconds_buffer":65}`, srv.URL+"/rounds/{target}/latest")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	timers := timer.New(nil, logx.Nop())
	svc := runner.NewService(runner.Deps{Timers: timers})
	r, err := svc.Register(runner.Spec{
		ID:       "lottery",
		Schedule: "@every 5m",
		Targets:  []string{"56"},
		Members:  func() ([]string, error) { return []string{"0xa", "0xb", "0xc"}, nil },
		Body:     task.Body,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := task.Bind(r); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tick := func() {
		t.Helper()
		if err := r.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := svc.Queue().Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	tick()
	ns := out.all()
	if len(ns) != 1 || len(ns[0].Accounts) != 2 || ns[0].Accounts[0] != "0xa" || ns[0].Accounts[1] != "0xc" {
		t.Fatalf("notifications = %+v", ns)
	}
	if got, want := r.Schedule(), "CRON_TZ=UTC 5 1 12 * * *"; got != want {
		t.Fatalf("schedule after round = %q, want %q", got, want)
	}
	if names := timers.ArmedNames(); len(names) != 1 {
		t.Fatalf("armed timers = %v", names)
	}

	// same round again: nobody is notified twice
	tick()
	if len(out.all()) != 1 {
		t.Fatalf("round notified twice")
	}

	// next round is still running: nothing to send, timer follows the new end
	round.Store(Round{ID: "413", EndTime: end, NextEndTime: end + 90, Status: "open", Participants: []string{"0xb"}})
	tick()
	if len(out.all()) != 1 {
		t.Fatalf("open round must not notify")
	}
	if got, want := r.Schedule(), "CRON_TZ=UTC 35 2 12 * * *"; got != want {
		t.Fatalf("schedule = %q, want %q", got, want)
	}
}

func TestRoundWatchFetchFailureIsBodyError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "subgraph down", http.StatusBadGateway)
	}))
	defer srv.Close()

	task, err := New(tasks.Deps{Store: storage.NewMemory(), Notifier: &outbox{}}, "prediction", json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := task.Body(context.Background(), "56", []string{"0xa"}); err == nil {
		t.Fatalf("expected fetch error")
	}
	if _, err := New(tasks.Deps{}, "prediction", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("missing url must fail")
	}
}

func TestRoundWatchRequiresSingleTarget(t *testing.T) {
	t.Parallel()

	task, err := New(tasks.Deps{Store: storage.NewMemory(), Notifier: &outbox{}}, "rounds", json.RawMessage(`{"url":"http://rounds.invalid/{target}"}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc := runner.NewService(runner.Deps{Timers: timer.New(nil, logx.Nop())})
	r, err := svc.Register(runner.Spec{
		ID:       "rounds",
		Schedule: "@every 5m",
		Targets:  []string{"lottery", "prediction"},
		Members:  func() ([]string, error) { return []string{"0xa"}, nil },
		Body:     task.Body,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := task.Bind(r); err == nil {
		t.Fatalf("two targets share one timer; Bind must fail")
	}
}
