// Package pending implements the handle -> one-shot-slot correlation table
// a Client uses to match server replies to the caller that issued them.
// Cancellation removes the handle's entry: a late reply for a cancelled
// handle finds no entry and is discarded instead of delivered to an
// abandoned caller.
package pending

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrDuplicateHandle is returned by Register when the handle is already
// present in the table, as happens when the handle allocator has wrapped
// around onto a handle that is still outstanding. client.Client responds
// by drawing a fresh handle and registering again.
var ErrDuplicateHandle = errors.New("pending: duplicate handle")

// ErrCancelled is delivered to a Slot's Await when the caller's context is
// cancelled before a reply or closing error arrives.
var ErrCancelled = errors.New("pending: call cancelled")

// ErrTimeout is delivered to a Slot's Await when the caller's context
// deadline elapses before a reply or closing error arrives, distinct from
// an explicit ErrCancelled so a caller wrapping Call in
// context.WithTimeout can tell its own timeout apart from a deliberate
// cancel.
var ErrTimeout = errors.New("pending: call timed out")

// Delivery is what a Slot eventually receives: either a payload (the raw
// XML-RPC response body, decoded by the caller) or a terminal transport
// error.
type Delivery struct {
	Payload []byte
	Err     error
}

// Slot is a single-assignment rendezvous awaiting exactly one Delivery.
type Slot struct {
	ch chan Delivery
}

// Await blocks until a Delivery arrives, ctx is done, or the table that
// created this slot shuts down. Await itself leaves the table entry in
// place; a caller that gives up calls Table.Cancel so that a later reply
// for the same handle is silently discarded by Complete.
// Await reports ErrTimeout when ctx's deadline elapsed and ErrCancelled
// for any other reason ctx is done (an explicit cancel).
func (s *Slot) Await(ctx context.Context) ([]byte, error) {
	select {
	case d := <-s.ch:
		return d.Payload, d.Err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ErrCancelled
	}
}

// Table maps handle -> Slot. All methods are safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	slots    map[uint32]*Slot
	closed   bool
	closeErr error
}

// New returns an empty, open Table.
func New() *Table {
	return &Table{slots: make(map[uint32]*Slot)}
}

// Register inserts a new slot for handle. It fails with ErrDuplicateHandle
// if handle is already registered, and returns the table's close error
// immediately if the table has already been shut down by CloseAll.
func (t *Table) Register(handle uint32) (*Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, t.closeErr
	}
	if _, exists := t.slots[handle]; exists {
		return nil, ErrDuplicateHandle
	}

	s := &Slot{ch: make(chan Delivery, 1)}
	t.slots[handle] = s
	return s, nil
}

// Cancel removes handle's slot without delivering anything to it, so a
// later Complete for the same handle is dropped as a stale reply instead of
// being delivered to an abandoned caller. It reports whether a slot was
// actually present.
func (t *Table) Cancel(handle uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.slots[handle]
	delete(t.slots, handle)
	return ok
}

// Complete removes handle's slot and delivers payload to it exactly once.
// If no entry exists — the reply arrived after a timeout, cancellation, or
// disconnect already removed it — the payload is dropped; the caller
// (the receive loop) is responsible for logging that at debug level.
func (t *Table) Complete(handle uint32, payload []byte) (delivered bool) {
	t.mu.Lock()
	s, ok := t.slots[handle]
	if ok {
		delete(t.slots, handle)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	s.ch <- Delivery{Payload: payload}
	return true
}

// CloseAll drains the table and delivers err to every outstanding slot,
// then marks the table closed so any later Register fails fast with err
// instead of registering a slot nothing will ever service. Safe to call
// more than once; only the first call's err takes effect.
func (t *Table) CloseAll(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeErr = err
	slots := t.slots
	t.slots = make(map[uint32]*Slot)
	t.mu.Unlock()

	for _, s := range slots {
		s.ch <- Delivery{Err: err}
	}
}

// Len reports the number of outstanding slots, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
