// Package mailbox provides the two non-blocking primitives the control tasks
// use to talk to each other: a single-slot overwrite Mailbox and a one-shot
// Latch.
//
// Neither primitive ever blocks the caller. A Mailbox keeps only the most
// recent value; publishing over an unread value replaces it and counts the
// replacement as an overwrite. Readers either Peek (cyclic polling, several
// readers) or TryTake (one-shot consumption, single reader).
package mailbox

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot, latest-value-wins cell. The zero value is an
// empty mailbox ready for use.
type Mailbox[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
	seq   uint64 // incremented on every Publish

	overwrites atomic.Uint64 // publishes that replaced an unread value
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Publish stores v, replacing whatever was there. It never blocks.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	if m.full {
		m.overwrites.Add(1)
	}
	m.value = v
	m.full = true
	m.seq++
	m.mu.Unlock()
}

// TryTake returns the stored value and empties the mailbox. ok is false when
// nothing has been published since the last take.
func (m *Mailbox[T]) TryTake() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return v, false
	}
	v = m.value
	var zero T
	m.value = zero
	m.full = false
	return v, true
}

// Peek returns the stored value without emptying the mailbox.
func (m *Mailbox[T]) Peek() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.full
}

// PeekSeq is Peek plus the publish sequence number of the returned value, so
// a poller can tell a fresh publish from one it has already handled.
func (m *Mailbox[T]) PeekSeq() (v T, seq uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.seq, m.full
}

// Overwrites reports how many publishes replaced a value nobody had taken.
func (m *Mailbox[T]) Overwrites() uint64 {
	return m.overwrites.Load()
}

// Latch is a settable, consumable boolean. The zero value is clear.
type Latch struct {
	set atomic.Bool
}

// Signal sets the latch. Signalling an already-set latch is a no-op.
func (l *Latch) Signal() {
	l.set.Store(true)
}

// TryConsume clears the latch and reports whether it had been set.
func (l *Latch) TryConsume() bool {
	return l.set.CompareAndSwap(true, false)
}

// IsSet reports the latch state without consuming it.
func (l *Latch) IsSet() bool {
	return l.set.Load()
}
