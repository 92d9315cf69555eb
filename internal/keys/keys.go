// Package keys defines the key identifiers shared by the hook, the pressed-key
// tracker and the blocking policy.
//
// A Key is the Win32 virtual-key code of a physical key. The code space is
// fixed by the OS, so values are stable for the life of the process and can be
// used directly as bit indexes by the tracker.
package keys

import "fmt"

// Key identifies a logical key by its Win32 virtual-key code.
type Key uint8

// Transition is the direction of a key event.
type Transition uint8

const (
	// Down is a key press (WM_KEYDOWN / WM_SYSKEYDOWN, including auto-repeat).
	Down Transition = iota + 1
	// Up is a key release (WM_KEYUP / WM_SYSKEYUP).
	Up
)

func (t Transition) String() string {
	switch t {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return "unknown"
	}
}

// Event is one decoded key transition.
type Event struct {
	Key        Key
	Transition Transition
}

// DownEvent returns a key-press event for k.
func DownEvent(k Key) Event { return Event{Key: k, Transition: Down} }

// UpEvent returns a key-release event for k.
func UpEvent(k Key) Event { return Event{Key: k, Transition: Up} }

const (
	Backspace   Key = 0x08
	Tab         Key = 0x09
	Enter       Key = 0x0D
	Pause       Key = 0x13
	CapsLock    Key = 0x14
	Escape      Key = 0x1B
	Space       Key = 0x20
	PageUp      Key = 0x21
	PageDown    Key = 0x22
	End         Key = 0x23
	Home        Key = 0x24
	ArrowLeft   Key = 0x25
	ArrowUp     Key = 0x26
	ArrowRight  Key = 0x27
	ArrowDown   Key = 0x28
	PrintScreen Key = 0x2C
	Insert      Key = 0x2D
	Delete      Key = 0x2E
	LWin        Key = 0x5B
	RWin        Key = 0x5C
	Apps        Key = 0x5D
	F1          Key = 0x70
	F2          Key = 0x71
	F3          Key = 0x72
	F4          Key = 0x73
	F5          Key = 0x74
	F6          Key = 0x75
	F7          Key = 0x76
	F8          Key = 0x77
	F9          Key = 0x78
	F10         Key = 0x79
	F11         Key = 0x7A
	F12         Key = 0x7B
	F13         Key = 0x7C
	F24         Key = 0x87
	LeftShift   Key = 0xA0
	RightShift  Key = 0xA1
	LeftCtrl    Key = 0xA2
	RightCtrl   Key = 0xA3
	LeftAlt     Key = 0xA4
	RightAlt    Key = 0xA5
)

// Generic modifier codes. Low-level hooks normally report the sided variants,
// but synthesized input may carry these; FromVirtualKey folds them.
const (
	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
)

// Modifier groups used by the policy. Callers pass them as AnyOf(group...),
// which does not allocate.
var (
	CtrlKeys = []Key{LeftCtrl, RightCtrl}
	AltKeys  = []Key{LeftAlt, RightAlt}
	WinKeys  = []Key{LWin, RWin}
)

// FromVirtualKey decodes a raw virtual-key code. It reports false for codes
// that do not name a key (0, 0xFF "no mapping", and anything wider than a byte).
func FromVirtualKey(vk uint32) (Key, bool) {
	switch vk {
	case 0, 0xFF:
		return 0, false
	case vkShift:
		return LeftShift, true
	case vkControl:
		return LeftCtrl, true
	case vkMenu:
		return LeftAlt, true
	}
	if vk > 0xFF {
		return 0, false
	}
	return Key(vk), true
}

// Letter returns the key for an ASCII letter (either case).
func Letter(r rune) Key {
	if r >= 'a' && r <= 'z' {
		r -= 'a' - 'A'
	}
	return Key(r)
}

// IsFunctionKey reports whether k is one of F1 through F12.
func (k Key) IsFunctionKey() bool {
	return k >= F1 && k <= F12
}

// IsWin reports whether k is either Windows key.
func (k Key) IsWin() bool {
	return k == LWin || k == RWin
}

var keyNames = map[Key]string{
	Backspace:   "Backspace",
	Tab:         "Tab",
	Enter:       "Enter",
	Pause:       "Pause",
	CapsLock:    "CapsLock",
	Escape:      "Escape",
	Space:       "Space",
	PageUp:      "PageUp",
	PageDown:    "PageDown",
	End:         "End",
	Home:        "Home",
	ArrowLeft:   "Left",
	ArrowUp:     "Up",
	ArrowRight:  "Right",
	ArrowDown:   "Down",
	PrintScreen: "PrintScreen",
	Insert:      "Insert",
	Delete:      "Delete",
	LWin:        "LWin",
	RWin:        "RWin",
	Apps:        "Apps",
	LeftShift:   "LeftShift",
	RightShift:  "RightShift",
	LeftCtrl:    "LeftCtrl",
	RightCtrl:   "RightCtrl",
	LeftAlt:     "LeftAlt",
	RightAlt:    "RightAlt",
}

// String returns a readable key name for logs.
func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	switch {
	case k >= 'A' && k <= 'Z', k >= '0' && k <= '9':
		return string(rune(k))
	case k >= F1 && k <= F24:
		return fmt.Sprintf("F%d", int(k-F1)+1)
	}
	return fmt.Sprintf("VK_0x%02X", uint8(k))
}
