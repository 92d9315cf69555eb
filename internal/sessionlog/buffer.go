package sessionlog

import (
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the in-memory log shown in the window.
	DefaultCapacity = 500
	// notifyMinInterval throttles "updated" pings. Throttling never loses
	// entries: the UI always fetches a full snapshot.
	notifyMinInterval = 50 * time.Millisecond
)

// Entry is one warning or error as shown in the UI.
type Entry struct {
	Seq     uint64    `json:"seq"` // assigned by Buffer.Add, never reset
	Time    time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"msg"`
	Source  string    `json:"source"`
	Detail  string    `json:"detail,omitempty"`
}

// Buffer is a fixed-capacity ring of entries, safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	buf      []Entry
	head     int // oldest entry
	count    int
	seq      uint64
	notify   func()
	lastPing time.Time
	now      func() time.Time
}

// NewBuffer returns a buffer holding at most capacity entries. Capacities
// below 1 are raised to 1. notify, when set, is called outside the lock after
// an Add, at most once per notifyMinInterval.
func NewBuffer(capacity int, notify func()) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		buf:    make([]Entry, capacity),
		notify: notify,
		now:    time.Now,
	}
}

// Add stores e, overwriting the oldest entry when full. It matches Sink.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	b.seq++
	e.Seq = b.seq
	if b.count < len(b.buf) {
		b.buf[(b.head+b.count)%len(b.buf)] = e
		b.count++
	} else {
		b.buf[b.head] = e
		b.head = (b.head + 1) % len(b.buf)
	}
	ping := false
	if now := b.now(); now.Sub(b.lastPing) >= notifyMinInterval {
		b.lastPing = now
		ping = true
	}
	b.mu.Unlock()

	if ping && b.notify != nil {
		b.notify()
	}
}

// Snapshot returns the entries oldest first. The slice is never nil so it
// encodes as [] for the frontend.
func (b *Buffer) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	first := min(len(b.buf)-b.head, b.count)
	copy(out, b.buf[b.head:b.head+first])
	if rest := b.count - first; rest > 0 {
		copy(out[first:], b.buf[:rest])
	}
	return out
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
