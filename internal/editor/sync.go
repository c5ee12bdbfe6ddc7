package editor

import (
	"context"
	"sync"
	"time"
)

// Default debounce windows per field. Title reacts faster than prose;
// status changes skip the debounce entirely.
const (
	DefaultTitleDelay    = 500 * time.Millisecond
	DefaultContentDelay  = 1000 * time.Millisecond
	DefaultSynopsisDelay = 1000 * time.Millisecond
)

// Delays configures the per-field debounce windows.
type Delays struct {
	Title    time.Duration
	Content  time.Duration
	Synopsis time.Duration
}

// DefaultDelays returns the standard editor debounce configuration.
func DefaultDelays() Delays {
	return Delays{
		Title:    DefaultTitleDelay,
		Content:  DefaultContentDelay,
		Synopsis: DefaultSynopsisDelay,
	}
}

type fieldState struct {
	timer   *time.Timer
	pending *string
}

// Session owns the autosave state for one open document. Each field has
// its own debounce timer; when a timer fires, the latest value of that
// field is enqueued. Status changes bypass the debounce and enqueue
// immediately.
type Session struct {
	nodeID string
	queue  *SaveQueue
	delays Delays

	mu     sync.Mutex
	fields map[string]*fieldState
	closed bool
}

// NewSession opens an autosave session for a document. The queue is
// owned by the session and shut down on Close.
func NewSession(nodeID string, persist PersistFunc, delays Delays) *Session {
	if delays.Title == 0 {
		delays.Title = DefaultTitleDelay
	}
	if delays.Content == 0 {
		delays.Content = DefaultContentDelay
	}
	if delays.Synopsis == 0 {
		delays.Synopsis = DefaultSynopsisDelay
	}
	return &Session{
		nodeID: nodeID,
		queue:  NewSaveQueue(persist),
		delays: delays,
		fields: make(map[string]*fieldState),
	}
}

// scheduleField records the newest value and (re)arms the field's timer.
// Repeated edits inside the window collapse into one save of the final
// value.
func (s *Session) scheduleField(name string, value string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	state, ok := s.fields[name]
	if !ok {
		state = &fieldState{}
		s.fields[name] = state
	}
	state.pending = &value

	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(delay, func() {
		s.fireField(name)
	})
}

func (s *Session) fireField(name string) {
	s.mu.Lock()
	state, ok := s.fields[name]
	if !ok || state.pending == nil {
		s.mu.Unlock()
		return
	}
	value := state.pending
	state.pending = nil
	state.timer = nil
	s.mu.Unlock()

	upd := Update{}
	switch name {
	case "title":
		upd.Title = value
	case "content":
		upd.Content = value
	case "synopsis":
		upd.Synopsis = value
	}
	_, _ = s.queue.Enqueue(s.nodeID, upd)
}

// SetTitle schedules a debounced title save.
func (s *Session) SetTitle(title string) {
	s.scheduleField("title", title, s.delays.Title)
}

// SetContent schedules a debounced content save.
func (s *Session) SetContent(content string) {
	s.scheduleField("content", content, s.delays.Content)
}

// SetSynopsis schedules a debounced synopsis save.
func (s *Session) SetSynopsis(synopsis string) {
	s.scheduleField("synopsis", synopsis, s.delays.Synopsis)
}

// SetStatus enqueues a status save immediately.
func (s *Session) SetStatus(status string) (*Ticket, error) {
	return s.queue.Enqueue(s.nodeID, Update{Status: &status})
}

// Flush cancels all pending timers, enqueues whatever is still dirty as
// a single combined save, and waits for the queue to persist it.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	combined := Update{}
	for name, state := range s.fields {
		if state.timer != nil {
			state.timer.Stop()
			state.timer = nil
		}
		if state.pending == nil {
			continue
		}
		switch name {
		case "title":
			combined.Title = state.pending
		case "content":
			combined.Content = state.pending
		case "synopsis":
			combined.Synopsis = state.pending
		}
		state.pending = nil
	}
	s.mu.Unlock()

	if combined.isEmpty() {
		return nil
	}
	ticket, err := s.queue.Enqueue(s.nodeID, combined)
	if err != nil {
		return err
	}
	return ticket.Wait(ctx)
}

// Close flushes pending edits and shuts the queue down.
func (s *Session) Close(ctx context.Context) error {
	err := s.Flush(ctx)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.queue.Close()
	return err
}
