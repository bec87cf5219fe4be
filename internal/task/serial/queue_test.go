package serial

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/ChefBingbong/pcs-notification-scheduler/pkg/logx"
)

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
}

func TestSameKeyRunsInSubmissionOrder(t *testing.T) {
	t.Parallel()
	q := New(context.Background())

	release := make(chan struct{})
	var mu sync.Mutex
	var order []int
	var running, maxRunning atomic.Int32

	task := func(i int) Task {
		return func(ctx context.Context) error {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			if i == 0 {
				<-release
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
			return nil
		}
	}

	if queued := q.Submit("job-56", task(0)); queued {
		t.Fatal("first task should start immediately")
	}
	for i := 1; i < 5; i++ {
		if queued := q.Submit("job-56", task(i)); !queued {
			t.Fatalf("task %d should be queued behind the running one", i)
		}
	}
	if got := q.Pending("job-56"); got != 4 {
		t.Fatalf("Pending = %d, want 4", got)
	}
	close(release)
	waitIdle(t, q)

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want 0..4", order)
		}
	}
	if maxRunning.Load() != 1 {
		t.Fatalf("max concurrent tasks for one key = %d, want 1", maxRunning.Load())
	}
	if q.Busy("job-56") {
		t.Fatal("key still busy after drain")
	}
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	t.Parallel()
	q := New(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	go func() { wg.Wait(); close(both) }()

	block := func(ctx context.Context) error {
		wg.Done()
		select {
		case <-both:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("other key never started")
		}
	}
	var failures atomic.Int32
	q.onErr = func(string, error) { failures.Add(1) }

	q.Submit("a", block)
	q.Submit("b", block)
	waitIdle(t, q)
	if failures.Load() != 0 {
		t.Fatal("tasks under different keys did not overlap")
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var errs []error
	q := New(context.Background(), WithErrorHandler(func(key string, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}))

	var ran atomic.Int32
	hold := make(chan struct{})
	q.Submit("k", func(context.Context) error { <-hold; return errors.New("first failed") })
	q.Submit("k", func(context.Context) error { panic("second exploded") })
	q.Submit("k", func(context.Context) error { ran.Add(1); return nil })
	close(hold)
	waitIdle(t, q)

	if ran.Load() != 1 {
		t.Fatal("task after failures did not run")
	}
	if len(errs) != 2 {
		t.Fatalf("reported errors = %v, want 2", errs)
	}
	var pe *logx.PanicError
	if !errors.As(errs[1], &pe) {
		t.Fatalf("second error = %v, want *PanicError", errs[1])
	}

	// Bookkeeping is intact: the key accepts and runs new work.
	q.Submit("k", func(context.Context) error { ran.Add(1); return nil })
	waitIdle(t, q)
	if ran.Load() != 2 {
		t.Fatal("key unusable after failures")
	}
}
