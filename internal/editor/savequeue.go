// Package editor coordinates autosave for an open document: edits are
// debounced per field, then persisted strictly one at a time through a
// FIFO save queue.
package editor

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed reports an enqueue after Close.
var ErrQueueClosed = errors.New("save queue closed")

// Update is a partial document update. Nil fields are untouched.
type Update struct {
	Title    *string
	Content  *string
	Synopsis *string
	Status   *string
}

// isEmpty reports whether the update carries no changes.
func (u Update) isEmpty() bool {
	return u.Title == nil && u.Content == nil && u.Synopsis == nil && u.Status == nil
}

// PersistFunc writes one update to the backend.
type PersistFunc func(ctx context.Context, nodeID string, upd Update) error

// Ticket tracks one enqueued save through completion.
type Ticket struct {
	NodeID string
	Update Update

	done chan struct{}
	err  error
}

// Wait blocks until the save completes or ctx is done, returning the
// persistence error if any.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SaveQueue serializes saves: strictly FIFO, at most one persist call in
// flight. A failed save completes its own ticket with the error and the
// queue moves on; later tickets are unaffected.
type SaveQueue struct {
	persist PersistFunc

	mu      sync.Mutex
	pending []*Ticket
	closed  bool

	wake     chan struct{}
	shutdown chan struct{}
	drained  chan struct{}
}

// NewSaveQueue starts the queue worker.
func NewSaveQueue(persist PersistFunc) *SaveQueue {
	q := &SaveQueue{
		persist:  persist,
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		drained:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends a save to the queue and returns its ticket.
func (q *SaveQueue) Enqueue(nodeID string, upd Update) (*Ticket, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	ticket := &Ticket{NodeID: nodeID, Update: upd, done: make(chan struct{})}
	q.pending = append(q.pending, ticket)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return ticket, nil
}

// Len reports how many saves are still queued.
func (q *SaveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *SaveQueue) pop() *Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	ticket := q.pending[0]
	q.pending = q.pending[1:]
	return ticket
}

func (q *SaveQueue) run() {
	defer close(q.drained)
	for {
		ticket := q.pop()
		if ticket == nil {
			select {
			case <-q.wake:
				continue
			case <-q.shutdown:
				// Drain whatever arrived before Close.
				for t := q.pop(); t != nil; t = q.pop() {
					t.err = q.persist(context.Background(), t.NodeID, t.Update)
					close(t.done)
				}
				return
			}
		}
		ticket.err = q.persist(context.Background(), ticket.NodeID, ticket.Update)
		close(ticket.done)
	}
}

// Close stops accepting saves, finishes the ones already queued, and
// waits for the worker to exit.
func (q *SaveQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.drained
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.shutdown)
	<-q.drained
}
