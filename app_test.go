package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"toddlermode/internal/config"
	"toddlermode/internal/hook"
	"toddlermode/internal/ipc"
	"toddlermode/internal/keys"
	"toddlermode/internal/mode"
	"toddlermode/internal/policy"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// NOTE: Helpers in this file replace package-level function variables
// (runtimeEventsEmitFn, runtimeWindow*Fn, newPipeServerFn, watchConfigFn).
// Tests in package main must not use t.Parallel().

type fakeInstaller struct {
	mu         sync.Mutex
	cb         hook.Callback
	installs   int
	uninstalls int
	installErr error
	stats      hook.Stats
	lostFns    []func(hook.Handle)
}

func (f *fakeInstaller) OnLost(fn func(hook.Handle)) {
	f.mu.Lock()
	f.lostFns = append(f.lostFns, fn)
	f.mu.Unlock()
}

// lose drops the live hook without Uninstall and reports it lost.
func (f *fakeInstaller) lose() {
	f.mu.Lock()
	f.cb = nil
	fns := f.lostFns
	f.mu.Unlock()
	for _, fn := range fns {
		fn(hook.Handle{})
	}
}

func (f *fakeInstaller) Install(cb hook.Callback) (hook.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return hook.Handle{}, f.installErr
	}
	if f.cb != nil {
		return hook.Handle{}, hook.ErrAlreadyInstalled
	}
	f.cb = cb
	f.installs++
	return hook.Handle{}, nil
}

func (f *fakeInstaller) Uninstall(hook.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cb != nil {
		f.cb = nil
		f.uninstalls++
	}
}

func (f *fakeInstaller) Stats() hook.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeInstaller) installed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb != nil
}

// send delivers ev the way the hook thread would.
func (f *fakeInstaller) send(ev keys.Event) policy.Decision {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb == nil {
		return policy.PassThrough
	}
	return cb(ev)
}

type emittedEvent struct {
	name    string
	payload any
}

// runtimeRecorder captures Wails runtime calls made through the fn vars.
type runtimeRecorder struct {
	mu     sync.Mutex
	events []emittedEvent
	window []string
	quits  int
}

func (r *runtimeRecorder) emit(_ context.Context, name string, data ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload any
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, emittedEvent{name: name, payload: payload})
}

func (r *runtimeRecorder) windowCall(name string) func(context.Context) {
	return func(context.Context) {
		r.mu.Lock()
		r.window = append(r.window, name)
		r.mu.Unlock()
	}
}

func (r *runtimeRecorder) eventsNamed(name string) []emittedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emittedEvent
	for _, ev := range r.events {
		if ev.name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *runtimeRecorder) windowCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.window...)
}

func (r *runtimeRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.window = nil
	r.mu.Unlock()
}

func (r *runtimeRecorder) quitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quits
}

var testPipeSeq atomic.Uint64

// stubRuntime swaps every runtime seam for the recorder and restores them in
// t.Cleanup. Config watching blocks until cancelled; pipe servers get a
// unique name per test.
func stubRuntime(t *testing.T) *runtimeRecorder {
	t.Helper()
	rec := &runtimeRecorder{}

	runtimeEventsEmitFn = rec.emit
	runtimeLogger = lifecycleTestLogger{}
	runtimeQuitFn = func(context.Context) {
		rec.mu.Lock()
		rec.quits++
		rec.mu.Unlock()
	}
	runtimeWindowShowFn = rec.windowCall("show")
	runtimeWindowUnminimiseFn = rec.windowCall("unminimise")
	runtimeWindowFullscreenFn = rec.windowCall("fullscreen")
	runtimeWindowUnfullscreenFn = rec.windowCall("unfullscreen")
	runtimeWindowSetAlwaysOnTopFn = func(_ context.Context, b bool) {
		rec.windowCall(fmt.Sprintf("ontop:%v", b))(nil)
	}
	newPipeServerFn = func(_ string, handler ipc.Handler) *ipc.PipeServer {
		return ipc.NewPipeServer(fmt.Sprintf(`\\.\pipe\ToddlerMode-test-%d`, testPipeSeq.Add(1)), handler)
	}
	watchConfigFn = func(ctx context.Context, _ string, _ func(config.Config)) error {
		<-ctx.Done()
		return nil
	}

	t.Cleanup(func() {
		runtimeEventsEmitFn = runtime.EventsEmit
		runtimeLogger = wailsRuntimeLogger{}
		runtimeQuitFn = runtime.Quit
		runtimeWindowShowFn = runtime.WindowShow
		runtimeWindowUnminimiseFn = runtime.WindowUnminimise
		runtimeWindowFullscreenFn = runtime.WindowFullscreen
		runtimeWindowUnfullscreenFn = runtime.WindowUnfullscreen
		runtimeWindowSetAlwaysOnTopFn = runtime.WindowSetAlwaysOnTop
		newPipeServerFn = ipc.NewPipeServer
		watchConfigFn = config.Watch
	})
	return rec
}

type lifecycleTestLogger struct{}

func (lifecycleTestLogger) Warningf(context.Context, string, ...any) {}
func (lifecycleTestLogger) Infof(context.Context, string, ...any) {}
func (lifecycleTestLogger) Errorf(context.Context, string, ...any) {}

// newTestApp builds an App around inst (a fresh fakeInstaller when nil) with
// deterministic activation IDs. teardown runs in t.Cleanup.
func newTestApp(t *testing.T, inst *fakeInstaller) *App {
	t.Helper()
	if inst == nil {
		inst = &fakeInstaller{}
	}
	var n atomic.Int64
	app := NewApp(appOptions{
		cfg:       config.DefaultConfig(),
		installer: inst,
		modeOptions: []mode.Option{
			mode.WithIDFunc(func() string { return fmt.Sprintf("activation-%d", n.Add(1)) }),
		},
	})
	t.Cleanup(app.teardown)
	return app
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
