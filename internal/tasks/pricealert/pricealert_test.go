package pricealert

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ChefBingbong/pcs-notification-scheduler/internal/notify"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/snapshot"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/storage"
	"github.com/ChefBingbong/pcs-notification-scheduler/internal/tasks"
)

type sent struct {
	mu sync.Mutex
	ns []notify.Notification
}

func (s *sent) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ns = append(s.ns, n)
	return nil
}

type stubPrices struct{ p map[string]decimal.Decimal }

func (s *stubPrices) Prices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return s.p, nil
}

type stubMembers struct{}

func (stubMembers) Members(context.Context) ([]string, error) { return []string{"0xa"}, nil }

func snapshotAt(t *testing.T, shared *snapshot.Shared, price string) {
	t.Helper()
	r := snapshot.NewRefresher(shared, snapshot.Config{
		Tokens:  []string{"binancecoin"},
		Prices:  &stubPrices{p: map[string]decimal.Decimal{"binancecoin": decimal.RequireFromString(price)}},
		Members: stubMembers{},
	})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

func TestPriceAlert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shared := snapshot.NewShared("binancecoin")
	store := storage.NewMemory()
	out := &sent{}
	task, err := New(tasks.Deps{Snapshot: shared, Store: store, Notifier: out}, "price-alert",
		json.RawMessage(`{"tokens":{"56":"binancecoin"},"symbols":{"56":"BNB"},"threshold_pct":2}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	members := []string{"0xa", "0xb"}

	steps := []struct {
		price string
		sent  int
	}{
		{"600", 0}, // first sighting only records the price
		{"605", 0}, // +0.83% is below threshold
		{"615", 1}, // +2.5% alerts
		{"600", 1}, // -2.4% but suppressed for 2h
	}
	for i, st := range steps {
		snapshotAt(t, shared, st.price)
		if err := task.Body(ctx, "56", members); err != nil {
			t.Fatalf("step %d: Body: %v", i, err)
		}
		out.mu.Lock()
		n := len(out.ns)
		out.mu.Unlock()
		if n != st.sent {
			t.Fatalf("step %d (price %s): sent %d notifications, want %d", i, st.price, n, st.sent)
		}
	}

	n := out.ns[0]
	if !strings.Contains(n.Title, "BNB price up 2.50%") || len(n.Accounts) != 2 {
		t.Fatalf("unexpected notification %+v", n)
	}
	var last decimal.Decimal
	if ok, _ := storage.GetJSON(ctx, store, "latestPrice-binancecoin-56", &last); !ok || !last.Equal(decimal.NewFromInt(615)) {
		t.Fatalf("last price = %s", last)
	}
	if ok, _ := store.Exists(ctx, "price-alert-56-binancecoin"); !ok {
		t.Fatalf("suppression key not set")
	}
}

func TestPriceAlertErrors(t *testing.T) {
	t.Parallel()

	if _, err := New(tasks.Deps{}, "x", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("missing tokens must fail")
	}
	if _, err := New(tasks.Deps{}, "x", json.RawMessage(`{"tokens":{"1":"a"},"suppress_for":"later"}`)); err == nil {
		t.Fatalf("bad suppress_for must fail")
	}

	task, err := New(tasks.Deps{Snapshot: snapshot.NewShared("a"), Store: storage.NewMemory(), Notifier: &sent{}}, "x", json.RawMessage(`{"tokens":{"1":"a"}}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := task.Body(context.Background(), "1", nil); err == nil {
		t.Fatalf("uninitialized snapshot must fail the body")
	}
	if err := task.Body(context.Background(), "56", nil); err == nil {
		t.Fatalf("unconfigured target must fail the body")
	}
}
