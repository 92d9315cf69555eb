package hook

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultStopTimeout bounds how long Uninstall waits for the hook thread.
	DefaultStopTimeout = 2 * time.Second
)

// osHook is a live OS registration and the thread that pumps it.
type osHook interface {
	stop(timeout time.Duration) error
	// exited is closed once the hook thread has returned, whether stop asked
	// it to or not.
	exited() <-chan struct{}
}

// startOSHookFn is a test seam; tests replace it to run without a real hook.
var startOSHookFn = startOSHook

type installedHook struct {
	handle  Handle
	session *session
	os      osHook
}

// Manager owns the process's keyboard hook registration.
type Manager struct {
	mu          sync.Mutex
	active      *installedHook // nil when no hook is registered
	nextID      uint64
	stopTimeout time.Duration
	last        Stats

	lostMu      sync.RWMutex
	lostHandler []func(Handle)
}

// Option configures a Manager.
type Option func(*Manager)

// WithStopTimeout sets how long Uninstall waits for the hook thread to exit.
// Non-positive values keep DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

// NewManager creates a manager with no hook installed.
func NewManager(opts ...Option) *Manager {
	m := &Manager{stopTimeout: DefaultStopTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install registers the low-level keyboard hook and routes every key
// transition to cb. It fails with ErrAlreadyInstalled while a hook is live and
// with an *InstallError when the OS refuses the registration.
func (m *Manager) Install(cb Callback) (Handle, error) {
	if cb == nil {
		return Handle{}, errors.New("hook callback is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return Handle{}, ErrAlreadyInstalled
	}

	s := newSession(cb)
	h, err := startOSHookFn(s)
	if err != nil {
		// Returned to the caller, which reports it.
		slog.Debug("[hook] keyboard hook install failed", "error", err)
		return Handle{}, err
	}

	m.nextID++
	handle := Handle{id: m.nextID}
	m.active = &installedHook{handle: handle, session: s, os: h}
	slog.Info("[hook] keyboard hook installed", "handle", handle.id)
	go m.watch(handle, h.exited())
	return handle, nil
}

// OnLost registers fn to run when a live hook goes away without Uninstall,
// for example when its message loop fails. fn receives the lost handle and
// runs on a manager goroutine with no manager lock held.
func (m *Manager) OnLost(fn func(Handle)) {
	if fn == nil {
		return
	}
	m.lostMu.Lock()
	m.lostHandler = append(m.lostHandler, fn)
	m.lostMu.Unlock()
}

// watch waits for the hook thread of h to exit. Uninstall clears m.active
// before stopping the thread, so an exit that finds h still active was not
// requested.
func (m *Manager) watch(h Handle, exited <-chan struct{}) {
	<-exited

	m.mu.Lock()
	if m.active == nil || m.active.handle != h {
		m.mu.Unlock()
		return
	}
	active := m.active
	m.active = nil
	m.last = active.session.stats()
	m.mu.Unlock()

	slog.Error("[hook] keyboard hook lost, keys are no longer filtered", "handle", h.id)

	m.lostMu.RLock()
	handlers := m.lostHandler
	m.lostMu.RUnlock()
	for _, fn := range handlers {
		fn(h)
	}
}

// Uninstall removes the hook identified by h. It is idempotent: the zero
// handle and stale handles are ignored. OS failures are logged, not returned,
// because uninstall runs on shutdown paths that must always complete.
func (m *Manager) Uninstall(h Handle) {
	if h.IsZero() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.handle != h {
		slog.Debug("[hook] uninstall ignored for handle that is not live", "handle", h.id)
		return
	}
	active := m.active
	// Clear first so Installed() reports idle even if the OS call misbehaves.
	m.active = nil

	if err := active.os.stop(m.stopTimeout); err != nil {
		slog.Warn("[hook] keyboard hook uninstall reported an error", "handle", h.id, "error", err)
	}

	stats := active.session.stats()
	m.last = stats
	slog.Info("[hook] keyboard hook removed",
		"handle", h.id,
		"events", stats.Events,
		"suppressed", stats.Suppressed,
		"anomalies", stats.Anomalies,
		"panics", stats.Panics,
	)
	if stats.Panics > 0 {
		slog.Error("[hook] keyboard callback panicked; affected events were passed through",
			"handle", h.id, "panics", stats.Panics)
	}
}

// Installed reports whether a hook is live.
func (m *Manager) Installed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Stats returns the counters of the live hook, or of the most recently
// removed one when no hook is live.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return m.active.session.stats()
	}
	return m.last
}
