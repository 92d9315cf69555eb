//go:build windows

package hook

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32DLL = windows.NewLazySystemDLL("user32.dll")

	procSetWindowsHookExW   = user32DLL.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32DLL.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32DLL.NewProc("UnhookWindowsHookEx")
	procGetMessageW         = user32DLL.NewProc("GetMessageW")
	procPeekMessageW        = user32DLL.NewProc("PeekMessageW")
	procPostThreadMessageW  = user32DLL.NewProc("PostThreadMessageW")
	procTranslateMessage    = user32DLL.NewProc("TranslateMessage")
	procDispatchMessageW    = user32DLL.NewProc("DispatchMessageW")
)

const (
	whKeyboardLL = 13
	wmQuit       = 0x0012
	pmNoRemove   = 0x0000
)

// kbdllHookStruct mirrors KBDLLHOOKSTRUCT.
type kbdllHookStruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

// point mirrors the Win32 POINT struct.
type point struct {
	x int32
	y int32
}

// winMsg mirrors the Win32 MSG struct. Field order and types must match the
// Win32 layout on both 32-bit and 64-bit Windows.
type winMsg struct {
	hWnd     uintptr
	message  uint32
	wParam   uintptr
	lParam   uintptr
	time     uint32
	pt       point
	lPrivate uint32
}

// The trampoline pointer is created once: callbacks made by
// windows.NewCallback are never freed, so one per process is the most we
// should ever allocate. liveSession is the registration the trampoline
// currently serves; only a Manager sets or clears it, and a second
// concurrent registration is refused.
var (
	trampolineOnce sync.Once
	trampoline     uintptr
	liveSession    atomic.Pointer[session]
)

// lowLevelKeyboardProc is the LowLevelKeyboardProc registered with the OS.
// It does no logging, takes no locks and allocates nothing.
func lowLevelKeyboardProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) >= 0 && lParam != 0 {
		if s := liveSession.Load(); s != nil {
			kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
			if s.dispatch(wParam, kb.vkCode) {
				return 1
			}
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return ret
}

type loopReady struct {
	err error
}

// windowsHook is one registration plus the pinned thread pumping its
// message queue. WH_KEYBOARD_LL callbacks are delivered through the
// installing thread's message loop, so that thread must keep calling
// GetMessageW for as long as the hook is live.
type windowsHook struct {
	session  *session
	threadID uint32
	hhook    uintptr
	doneCh   chan struct{}
	released atomic.Bool
}

func startOSHook(s *session) (osHook, error) {
	// Pre-check DLL availability so failures produce clean errors instead of
	// panics from LazyProc.Call.
	if err := user32DLL.Load(); err != nil {
		return nil, &InstallError{Op: "load user32.dll", Err: err}
	}
	if !liveSession.CompareAndSwap(nil, s) {
		return nil, ErrAlreadyInstalled
	}
	trampolineOnce.Do(func() {
		trampoline = windows.NewCallback(lowLevelKeyboardProc)
	})

	h := &windowsHook{session: s, doneCh: make(chan struct{})}
	readyCh := make(chan loopReady, 1)
	go h.run(readyCh)

	ready := <-readyCh
	if ready.err != nil {
		liveSession.CompareAndSwap(s, nil)
		<-h.doneCh
		return nil, ready.err
	}
	return h, nil
}

func (h *windowsHook) exited() <-chan struct{} { return h.doneCh }

func (h *windowsHook) run(readyCh chan<- loopReady) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.doneCh)

	readySent := false
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] keyboard hook loop recovered from panic",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			if !readySent {
				readyCh <- loopReady{err: &InstallError{Op: "hook message loop", Err: fmt.Errorf("panic: %v", r)}}
			}
		}
	}()

	h.threadID = windows.GetCurrentThreadId()

	// PeekMessageW forces Windows to create the thread message queue so that
	// PostThreadMessageW in stop() can deliver WM_QUIT.
	var qmsg winMsg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&qmsg)), 0, 0, 0, pmNoRemove)

	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		readySent = true
		readyCh <- loopReady{err: &InstallError{Op: "GetModuleHandleExW", Err: err}}
		return
	}

	hhook, _, callErr := procSetWindowsHookExW.Call(whKeyboardLL, trampoline, uintptr(module), 0)
	if hhook == 0 {
		readySent = true
		readyCh <- loopReady{err: &InstallError{Op: "SetWindowsHookExW", Err: lastError(callErr, "SetWindowsHookExW failed")}}
		return
	}
	h.hhook = hhook
	defer func() {
		if err := h.release(); err != nil {
			slog.Warn("[hook] UnhookWindowsHookEx on loop exit failed", "error", err, "threadID", h.threadID)
		}
	}()

	readyCh <- loopReady{}
	readySent = true

	for {
		var msg winMsg
		ret, _, lastErr := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		switch int32(ret) {
		case -1:
			slog.Warn("[hook] GetMessageW returned error, exiting loop", "error", lastErr, "threadID", h.threadID)
			return
		case 0:
			slog.Debug("[hook] message loop received WM_QUIT", "threadID", h.threadID)
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

// release detaches the trampoline from this session and unregisters the hook.
// Only the first call does anything.
func (h *windowsHook) release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	liveSession.CompareAndSwap(h.session, nil)
	res, _, err := procUnhookWindowsHookEx.Call(h.hhook)
	if res != 0 {
		return nil
	}
	return lastError(err, "UnhookWindowsHookEx failed")
}

func (h *windowsHook) stop(timeout time.Duration) error {
	// Stop routing events first; from here on the trampoline passes everything.
	liveSession.CompareAndSwap(h.session, nil)

	stopErr := postQuit(h.threadID)
	if stopErr != nil {
		// UnhookWindowsHookEx may be called from any thread.
		if err := h.release(); err != nil {
			stopErr = errors.Join(stopErr, err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.doneCh:
	case <-timer.C:
		slog.Warn("[hook] message loop stop timed out, unhooking from caller thread", "threadID", h.threadID)
		stopErr = errors.Join(stopErr, fmt.Errorf("hook message loop stop timed out after %s", timeout))
		if err := h.release(); err != nil {
			stopErr = errors.Join(stopErr, err)
		}
	}
	return stopErr
}

func postQuit(threadID uint32) error {
	if threadID == 0 {
		return errors.New("cannot post WM_QUIT: threadID is 0")
	}
	res, _, err := procPostThreadMessageW.Call(uintptr(threadID), wmQuit, 0, 0)
	if res != 0 {
		return nil
	}
	return lastError(err, "PostThreadMessageW failed")
}

func lastError(err error, fallback string) error {
	if err == nil || err == syscall.Errno(0) {
		return errors.New(fallback)
	}
	return err
}
