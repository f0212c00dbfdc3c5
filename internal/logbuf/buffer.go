// Package logbuf keeps the most recent log entries in memory and streams new
// ones to websocket clients.
package logbuf

import (
	"sync"
	"time"
)

// DefaultCapacity is how many entries a Buffer retains.
const DefaultCapacity = 100

// subscriberQueue is how far a subscriber may fall behind before it is dropped.
const subscriberQueue = 64

// Entry is one log line.
type Entry struct {
	Time    time.Time `json:"timestamp"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// String renders the entry the way it is shown to observers.
func (e Entry) String() string {
	return e.Time.Format("2006-01-02 15:04:05") + " [" + e.Level + "] " + e.Message
}

// Buffer is a fixed-capacity ring of entries. When full, the oldest entry is
// overwritten. It is safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	ring []Entry
	next int
	full bool
	subs map[chan Entry]struct{}
}

// New returns a Buffer retaining up to capacity entries (DefaultCapacity if
// capacity <= 0).
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		ring: make([]Entry, capacity),
		subs: make(map[chan Entry]struct{}),
	}
}

// Append adds e and forwards it to subscribers. A subscriber whose queue is
// full is disconnected rather than allowed to block logging.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Snapshot returns a copy of the retained entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() []Entry {
	if !b.full {
		out := make([]Entry, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]Entry, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// Lines returns Snapshot rendered as strings.
func (b *Buffer) Lines() []string {
	snap := b.Snapshot()
	lines := make([]string, len(snap))
	for i, e := range snap {
		lines[i] = e.String()
	}
	return lines
}

// Subscribe returns the current snapshot and a channel receiving every entry
// appended after it, with no gap or overlap between the two. The channel is
// closed when cancel is called or the subscriber falls behind.
func (b *Buffer) Subscribe() (history []Entry, ch <-chan Entry, cancel func()) {
	c := make(chan Entry, subscriberQueue)

	b.mu.Lock()
	history = b.snapshotLocked()
	b.subs[c] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[c]; ok {
				delete(b.subs, c)
				close(c)
			}
		})
	}
	return history, c, cancel
}
