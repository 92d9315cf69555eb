// Package hook owns the system-wide low-level keyboard hook.
//
// A Manager installs at most one hook at a time. The OS calls the hook
// trampoline serially, on the thread that installed it, for every key
// transition in the session. The trampoline decodes the event, hands it to the
// Callback and swallows the event when the returned decision says so.
//
// Callbacks run on the hook thread under a hard OS timeout. They must not
// block, log, or take locks that another goroutine may hold for long.
package hook

import (
	"errors"
	"fmt"
	"sync/atomic"

	"toddlermode/internal/keys"
	"toddlermode/internal/policy"
)

// Callback decides the fate of one decoded key transition.
type Callback func(ev keys.Event) policy.Decision

// Installer is the install/uninstall surface used by the mode controller.
type Installer interface {
	Install(cb Callback) (Handle, error)
	Uninstall(h Handle)
}

// Handle identifies one live hook registration. The zero Handle is "no hook".
type Handle struct {
	id uint64
}

// IsZero reports whether h refers to no hook.
func (h Handle) IsZero() bool { return h.id == 0 }

// ID returns a process-unique number for logs.
func (h Handle) ID() uint64 { return h.id }

var (
	// ErrInstall matches every *InstallError.
	ErrInstall = errors.New("keyboard hook install failed")
	// ErrAlreadyInstalled is returned when a hook is already live in this process.
	ErrAlreadyInstalled = errors.New("keyboard hook already installed")
	// ErrUnsupported is wrapped by InstallError on platforms without low-level hooks.
	ErrUnsupported = errors.New("low-level keyboard hooks are not supported on this platform")
)

// InstallError reports that the OS refused the hook registration.
type InstallError struct {
	Op  string
	Err error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install keyboard hook: %s: %v", e.Op, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInstall) true for any InstallError.
func (e *InstallError) Is(target error) bool { return target == ErrInstall }

// Stats are per-registration counters, reported when the hook is removed.
type Stats struct {
	Events     uint64 `json:"events"`
	Suppressed uint64 `json:"suppressed"`
	Anomalies  uint64 `json:"anomalies"`
	Panics     uint64 `json:"panics"`
}

// Keyboard message identifiers delivered as wParam to a WH_KEYBOARD_LL hook.
const (
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
)

func transitionFor(msg uintptr) (keys.Transition, bool) {
	switch msg {
	case wmKeyDown, wmSysKeyDown:
		return keys.Down, true
	case wmKeyUp, wmSysKeyUp:
		return keys.Up, true
	default:
		return 0, false
	}
}

// session is the state behind one hook registration. Counters are atomic
// because the hook thread writes them while the manager reads them.
type session struct {
	cb Callback

	events     atomic.Uint64
	suppressed atomic.Uint64
	anomalies  atomic.Uint64
	panics     atomic.Uint64
}

func newSession(cb Callback) *session {
	return &session{cb: cb}
}

// dispatch decodes one raw keyboard message and reports whether it must be
// swallowed. It never panics: a failing callback counts as a pass-through,
// since failing closed could lock the keyboard.
func (s *session) dispatch(msg uintptr, vk uint32) (swallow bool) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			swallow = false
		}
	}()

	transition, ok := transitionFor(msg)
	if !ok {
		return false
	}
	key, ok := keys.FromVirtualKey(vk)
	if !ok {
		s.anomalies.Add(1)
		return false
	}
	s.events.Add(1)
	if s.cb(keys.Event{Key: key, Transition: transition}).Swallow() {
		s.suppressed.Add(1)
		return true
	}
	return false
}

func (s *session) stats() Stats {
	return Stats{
		Events:     s.events.Load(),
		Suppressed: s.suppressed.Load(),
		Anomalies:  s.anomalies.Load(),
		Panics:     s.panics.Load(),
	}
}
