// Package handle allocates the 32-bit call handles a Client assigns to its
// own requests. The server echoes the handle verbatim on the matching
// response frame; values with the top bit set denote request/response
// handles, distinguishing them from server-assigned callback handles (top
// bit clear).
package handle

import "sync"

// Start is the first handle a fresh Allocator hands out.
const Start uint32 = 0x80000001

// wrapTo is where the counter resumes after the last value below the
// uint32 ceiling.
const wrapTo uint32 = 0x80000000

// Allocator produces monotonically increasing handles with the top bit set,
// wrapping back to the start of the request/response range instead of into
// the callback range. The counter has its own lock, independent of the
// connection's write mutex, since producing a handle does not require
// holding the socket (see client.Client.Call).
type Allocator struct {
	mu   sync.Mutex
	next uint32
}

// New returns an Allocator ready to hand out Start as its first value.
func New() *Allocator {
	return &Allocator{next: Start}
}

// Next returns the next handle and advances the counter. 0xFFFFFFFF is
// never itself returned: once 0xFFFFFFFE has been handed out, the next
// value would be 0xFFFFFFFF, so the counter wraps straight to 0x80000000
// instead.
func (a *Allocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.next
	if h == 0xFFFFFFFE {
		a.next = wrapTo
	} else {
		a.next = h + 1
	}
	return h
}
