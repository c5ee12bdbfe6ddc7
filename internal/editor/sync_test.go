package editor

import (
	"context"
	"testing"
	"time"
)

func shortDelays() Delays {
	return Delays{
		Title:    20 * time.Millisecond,
		Content:  20 * time.Millisecond,
		Synopsis: 20 * time.Millisecond,
	}
}

func waitForUpdates(t *testing.T, rec *recorder, want int) []Update {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if updates := rec.snapshot(); len(updates) >= want {
			return updates
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d updates, have %d", want, len(rec.snapshot()))
	return nil
}

func TestDebounceCoalescesEdits(t *testing.T) {
	rec := &recorder{}
	session := NewSession("nod_1", rec.persist, shortDelays())
	defer session.Close(context.Background())

	session.SetTitle("D")
	session.SetTitle("Dr")
	session.SetTitle("Draft One")

	updates := waitForUpdates(t, rec, 1)
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1 (edits coalesced)", len(updates))
	}
	if updates[0].Title == nil || *updates[0].Title != "Draft One" {
		t.Errorf("persisted title = %v, want Draft One", updates[0].Title)
	}

	// No further saves arrive once the window has fired.
	time.Sleep(100 * time.Millisecond)
	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("updates after settle = %d, want 1", got)
	}
}

func TestDebounceSeparateWindows(t *testing.T) {
	rec := &recorder{}
	session := NewSession("nod_1", rec.persist, shortDelays())
	defer session.Close(context.Background())

	session.SetTitle("Chapter 1")
	session.SetContent("<p>Once upon a time</p>")

	updates := waitForUpdates(t, rec, 2)
	var sawTitle, sawContent bool
	for _, upd := range updates {
		if upd.Title != nil {
			sawTitle = true
		}
		if upd.Content != nil {
			sawContent = true
		}
	}
	if !sawTitle || !sawContent {
		t.Errorf("expected separate title and content saves, got %+v", updates)
	}
}

func TestStatusBypassesDebounce(t *testing.T) {
	rec := &recorder{}
	// Long windows: a debounced field would not fire during this test.
	session := NewSession("nod_1", rec.persist, Delays{
		Title: time.Hour, Content: time.Hour, Synopsis: time.Hour,
	})
	defer session.Close(context.Background())

	ticket, err := session.SetStatus("final")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ticket.Wait(ctx); err != nil {
		t.Fatalf("status save: %v", err)
	}

	updates := rec.snapshot()
	if len(updates) != 1 || updates[0].Status == nil || *updates[0].Status != "final" {
		t.Errorf("updates = %+v, want single status=final", updates)
	}
}

func TestFlushCombinesPendingEdits(t *testing.T) {
	rec := &recorder{}
	session := NewSession("nod_1", rec.persist, Delays{
		Title: time.Hour, Content: time.Hour, Synopsis: time.Hour,
	})
	defer session.Close(context.Background())

	session.SetTitle("Chapter 1")
	session.SetContent("<p>Text</p>")
	session.SetSynopsis("The beginning.")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := session.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	updates := rec.snapshot()
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1 combined save", len(updates))
	}
	upd := updates[0]
	if upd.Title == nil || upd.Content == nil || upd.Synopsis == nil {
		t.Errorf("combined update missing fields: %+v", upd)
	}

	// Flushing again with nothing dirty is a no-op.
	if err := session.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("updates after empty flush = %d, want 1", got)
	}
}

func TestCloseFlushesAndStops(t *testing.T) {
	rec := &recorder{}
	session := NewSession("nod_1", rec.persist, Delays{
		Title: time.Hour, Content: time.Hour, Synopsis: time.Hour,
	})

	session.SetContent("<p>Unsaved words</p>")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	updates := rec.snapshot()
	if len(updates) != 1 || updates[0].Content == nil {
		t.Fatalf("updates = %+v, want the pending content persisted", updates)
	}

	// The session ignores edits after Close.
	session.SetTitle("Too late")
	time.Sleep(50 * time.Millisecond)
	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("updates after close = %d, want 1", got)
	}
}
