// Package keystate tracks which keys are currently held down.
package keystate

import (
	"math/bits"
	"sync/atomic"

	"toddlermode/internal/keys"
)

// Tracker is the set of keys currently held, derived from the stream of key
// transitions seen by the hook.
//
// The set is a 256-bit bitmap indexed by virtual-key code, stored in atomic
// words. Update, IsDown and AnyOf never allocate or block, so the tracker can
// be driven from the hook thread while the controller clears it from another
// goroutine. The zero value is an empty, ready-to-use set.
type Tracker struct {
	words [4]atomic.Uint64
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

func slot(k keys.Key) (int, uint64) {
	return int(k >> 6), 1 << (uint(k) & 63)
}

// Update applies one transition. Pressing a key that is already down and
// releasing a key that is not down are both no-ops.
func (t *Tracker) Update(ev keys.Event) {
	w, bit := slot(ev.Key)
	switch ev.Transition {
	case keys.Down:
		t.words[w].Or(bit)
	case keys.Up:
		t.words[w].And(^bit)
	}
}

// IsDown reports whether k is held.
func (t *Tracker) IsDown(k keys.Key) bool {
	w, bit := slot(k)
	return t.words[w].Load()&bit != 0
}

// AnyOf reports whether at least one of ks is held.
func (t *Tracker) AnyOf(ks ...keys.Key) bool {
	for _, k := range ks {
		if t.IsDown(k) {
			return true
		}
	}
	return false
}

// AllOf reports whether every key in ks is held. It is true for an empty list.
func (t *Tracker) AllOf(ks ...keys.Key) bool {
	for _, k := range ks {
		if !t.IsDown(k) {
			return false
		}
	}
	return true
}

// Clear empties the set.
func (t *Tracker) Clear() {
	for i := range t.words {
		t.words[i].Store(0)
	}
}

// Len returns the number of held keys.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.words {
		n += bits.OnesCount64(t.words[i].Load())
	}
	return n
}

// Pressed returns the held keys in ascending code order.
func (t *Tracker) Pressed() []keys.Key {
	out := make([]keys.Key, 0, t.Len())
	for i := range t.words {
		word := t.words[i].Load()
		for word != 0 {
			b := bits.TrailingZeros64(word)
			out = append(out, keys.Key(i*64+b))
			word &^= 1 << uint(b)
		}
	}
	return out
}
