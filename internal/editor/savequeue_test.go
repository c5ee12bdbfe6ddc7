package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func strp(s string) *string { return &s }

// recorder collects persisted updates in order.
type recorder struct {
	mu      sync.Mutex
	updates []Update
	fail    func(upd Update) error
}

func (r *recorder) persist(_ context.Context, _ string, upd Update) error {
	if r.fail != nil {
		if err := r.fail(upd); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.updates = append(r.updates, upd)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func TestSaveQueueFIFO(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex

	q := NewSaveQueue(func(_ context.Context, _ string, upd Update) error {
		started <- *upd.Content
		<-release
		mu.Lock()
		order = append(order, *upd.Content)
		mu.Unlock()
		return nil
	})
	defer q.Close()

	var tickets []*Ticket
	for _, v := range []string{"first", "second", "third"} {
		ticket, err := q.Enqueue("nod_1", Update{Content: strp(v)})
		if err != nil {
			t.Fatalf("enqueue %s: %v", v, err)
		}
		tickets = append(tickets, ticket)
	}

	// Only one save may be in flight while the first persist blocks.
	if got := <-started; got != "first" {
		t.Fatalf("first in flight = %q, want first", got)
	}
	select {
	case got := <-started:
		t.Fatalf("second save %q started while first still in flight", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, ticket := range tickets {
		if err := ticket.Wait(ctx); err != nil {
			t.Fatalf("ticket %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSaveQueueFailureIsolation(t *testing.T) {
	boom := errors.New("persist failed")
	rec := &recorder{fail: func(upd Update) error {
		if upd.Content != nil && *upd.Content == "bad" {
			return boom
		}
		return nil
	}}

	q := NewSaveQueue(rec.persist)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	good1, _ := q.Enqueue("nod_1", Update{Content: strp("ok-1")})
	bad, _ := q.Enqueue("nod_1", Update{Content: strp("bad")})
	good2, _ := q.Enqueue("nod_1", Update{Content: strp("ok-2")})

	if err := good1.Wait(ctx); err != nil {
		t.Errorf("first save: %v", err)
	}
	if err := bad.Wait(ctx); !errors.Is(err, boom) {
		t.Errorf("failing save: got %v, want %v", err, boom)
	}
	// The failure does not block or poison later saves.
	if err := good2.Wait(ctx); err != nil {
		t.Errorf("save after failure: %v", err)
	}

	updates := rec.snapshot()
	if len(updates) != 2 {
		t.Errorf("persisted = %d updates, want 2 (bad one rejected)", len(updates))
	}
}

func TestSaveQueueCloseDrains(t *testing.T) {
	rec := &recorder{}
	q := NewSaveQueue(func(ctx context.Context, id string, upd Update) error {
		time.Sleep(10 * time.Millisecond)
		return rec.persist(ctx, id, upd)
	})

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue("nod_1", Update{Content: strp("v")}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	q.Close()

	if got := len(rec.snapshot()); got != 5 {
		t.Errorf("persisted after close = %d, want 5", got)
	}
	if q.Len() != 0 {
		t.Errorf("queue length after close = %d, want 0", q.Len())
	}
	if _, err := q.Enqueue("nod_1", Update{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("enqueue after close: got %v, want ErrQueueClosed", err)
	}
}

func TestTicketWaitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	q := NewSaveQueue(func(context.Context, string, Update) error {
		<-release
		return nil
	})
	defer func() {
		close(release)
		q.Close()
	}()

	ticket, err := q.Enqueue("nod_1", Update{Content: strp("v")})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ticket.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait: got %v, want deadline exceeded", err)
	}
}
