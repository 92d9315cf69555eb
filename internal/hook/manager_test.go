package hook

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"toddlermode/internal/keys"
	"toddlermode/internal/policy"
	"toddlermode/internal/testutil"
)

// NOTE: These tests replace startOSHookFn. Do not use t.Parallel() here.

type fakeOSHook struct {
	stops   atomic.Int32
	stopErr error
	timeout time.Duration

	mu     sync.Mutex
	doneCh chan struct{}
	closed bool
}

// restart gives the fake a fresh thread for the next registration.
func (f *fakeOSHook) restart() {
	f.mu.Lock()
	f.doneCh = make(chan struct{})
	f.closed = false
	f.mu.Unlock()
}

// exit ends the current thread as if its message loop had returned.
func (f *fakeOSHook) exit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.doneCh)
	}
}

func (f *fakeOSHook) exited() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doneCh
}

func (f *fakeOSHook) stop(timeout time.Duration) error {
	f.stops.Add(1)
	f.timeout = timeout
	f.exit()
	return f.stopErr
}

func installFakeOSHook(t *testing.T, fake *fakeOSHook, startErr error) *[]*session {
	t.Helper()
	orig := startOSHookFn
	t.Cleanup(func() { startOSHookFn = orig })

	var sessions []*session
	startOSHookFn = func(s *session) (osHook, error) {
		if startErr != nil {
			return nil, startErr
		}
		sessions = append(sessions, s)
		fake.restart()
		return fake, nil
	}
	return &sessions
}

func passAll(keys.Event) policy.Decision { return policy.PassThrough }

func TestManagerInstallUninstall(t *testing.T) {
	fake := &fakeOSHook{}
	installFakeOSHook(t, fake, nil)

	m := NewManager(WithStopTimeout(time.Second))
	h, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if h.IsZero() {
		t.Fatal("Install() returned zero handle")
	}
	if !m.Installed() {
		t.Fatal("Installed() = false after Install")
	}

	m.Uninstall(h)
	if m.Installed() {
		t.Fatal("Installed() = true after Uninstall")
	}
	if got := fake.stops.Load(); got != 1 {
		t.Fatalf("stop calls = %d, want 1", got)
	}
	if fake.timeout != time.Second {
		t.Fatalf("stop timeout = %s, want 1s", fake.timeout)
	}
}

func TestManagerRejectsSecondInstall(t *testing.T) {
	installFakeOSHook(t, &fakeOSHook{}, nil)

	m := NewManager()
	h, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	t.Cleanup(func() { m.Uninstall(h) })

	if _, err := m.Install(passAll); !errors.Is(err, ErrAlreadyInstalled) {
		t.Fatalf("second Install() error = %v, want ErrAlreadyInstalled", err)
	}
}

func TestManagerInstallFailure(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	osErr := &InstallError{Op: "SetWindowsHookExW", Err: errors.New("access denied")}
	installFakeOSHook(t, &fakeOSHook{}, osErr)

	m := NewManager()
	h, err := m.Install(passAll)
	if !errors.Is(err, ErrInstall) {
		t.Fatalf("Install() error = %v, want ErrInstall", err)
	}
	if !h.IsZero() {
		t.Fatalf("Install() handle = %v, want zero", h)
	}
	if m.Installed() {
		t.Fatal("Installed() = true after failed Install")
	}
	// The caller reports the returned error; the manager stays quiet.
	if logBuf.Len() != 0 {
		t.Fatalf("log output = %q, want nothing at warn level", logBuf.String())
	}
}

func TestManagerInstallRequiresCallback(t *testing.T) {
	installFakeOSHook(t, &fakeOSHook{}, nil)
	if _, err := NewManager().Install(nil); err == nil {
		t.Fatal("Install(nil) error = nil, want error")
	}
}

func TestManagerUninstallIsIdempotent(t *testing.T) {
	fake := &fakeOSHook{}
	installFakeOSHook(t, fake, nil)

	m := NewManager()
	h, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	m.Uninstall(h)
	m.Uninstall(h)
	m.Uninstall(Handle{})
	if got := fake.stops.Load(); got != 1 {
		t.Fatalf("stop calls = %d, want 1", got)
	}
}

func TestManagerUninstallIgnoresStaleHandle(t *testing.T) {
	fake := &fakeOSHook{}
	installFakeOSHook(t, fake, nil)

	m := NewManager()
	first, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	m.Uninstall(first)
	second, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("reinstall error = %v", err)
	}
	if first == second {
		t.Fatal("reinstall reused the previous handle")
	}

	m.Uninstall(first)
	if !m.Installed() {
		t.Fatal("stale handle removed the live hook")
	}
	m.Uninstall(second)
	if m.Installed() {
		t.Fatal("Installed() = true after removing the live handle")
	}
}

func TestManagerUninstallErrorIsLoggedNotReturned(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	fake := &fakeOSHook{stopErr: errors.New("UnhookWindowsHookEx failed")}
	installFakeOSHook(t, fake, nil)

	m := NewManager()
	h, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	m.Uninstall(h)

	if m.Installed() {
		t.Fatal("Installed() = true after failed uninstall")
	}
	if !strings.Contains(logBuf.String(), "UnhookWindowsHookEx failed") {
		t.Fatalf("log output = %q, want uninstall warning", logBuf.String())
	}
}

func TestManagerStatsFollowSession(t *testing.T) {
	sessions := installFakeOSHook(t, &fakeOSHook{}, nil)

	m := NewManager()
	h, err := m.Install(func(ev keys.Event) policy.Decision {
		if ev.Key.IsFunctionKey() {
			return policy.Suppress
		}
		return policy.PassThrough
	})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	s := (*sessions)[0]
	s.dispatch(wmKeyDown, uint32(keys.F1))
	s.dispatch(wmKeyUp, uint32(keys.F1))
	s.dispatch(wmKeyDown, 'A')
	s.dispatch(wmKeyDown, 0)

	want := Stats{Events: 3, Suppressed: 2, Anomalies: 1}
	if got := m.Stats(); got != want {
		t.Fatalf("live Stats() = %+v, want %+v", got, want)
	}
	m.Uninstall(h)
	if got := m.Stats(); got != want {
		t.Fatalf("Stats() after uninstall = %+v, want %+v", got, want)
	}
}

func TestManagerReportsLostHook(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	fake := &fakeOSHook{}
	installFakeOSHook(t, fake, nil)

	m := NewManager()
	lost := make(chan Handle, 1)
	m.OnLost(func(h Handle) { lost <- h })

	h, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	fake.exit()

	select {
	case got := <-lost:
		if got != h {
			t.Fatalf("lost handle = %v, want %v", got, h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnLost handler not called")
	}
	if m.Installed() {
		t.Fatal("Installed() = true after the hook thread exited")
	}
	if !strings.Contains(logBuf.String(), "keyboard hook lost") {
		t.Fatalf("log output = %q, want lost-hook error", logBuf.String())
	}

	// Nothing is left to stop.
	m.Uninstall(h)
	if got := fake.stops.Load(); got != 0 {
		t.Fatalf("stop calls = %d, want 0", got)
	}
	if _, err := m.Install(passAll); err != nil {
		t.Fatalf("Install() after lost hook error = %v", err)
	}
}

func TestManagerUninstallIsNotReportedAsLost(t *testing.T) {
	fake := &fakeOSHook{}
	installFakeOSHook(t, fake, nil)

	m := NewManager()
	var lost atomic.Int32
	m.OnLost(func(Handle) { lost.Add(1) })

	h, err := m.Install(passAll)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	m.Uninstall(h)

	// Give the watcher time to observe the exit.
	time.Sleep(50 * time.Millisecond)
	if got := lost.Load(); got != 0 {
		t.Fatalf("OnLost calls = %d, want 0", got)
	}
}
