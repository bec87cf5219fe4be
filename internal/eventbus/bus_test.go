package eventbus

import (
	"testing"
	"time"
)

func TestFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TaskStarted, Data: TaskEvent{JobID: "price", Target: "56"}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TaskStarted || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
			if te, ok := e.Data.(TaskEvent); !ok || te.Target != "56" {
				t.Fatalf("unexpected payload %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: TaskFinished})
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TickSkipped})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffered events = %d, want 1", len(ch))
	}
}
