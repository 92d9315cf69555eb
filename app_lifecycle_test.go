package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"toddlermode/internal/applog"
	"toddlermode/internal/config"
	"toddlermode/internal/ipc"
	"toddlermode/internal/testutil"
)

// NOTE: This file overrides package-level function variables through
// stubRuntime and replaces the default slog logger. Do not use t.Parallel().

func TestStartupFlushesStartupWarnings(t *testing.T) {
	stubRuntime(t)
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	app := newTestApp(t, nil)

	app.addStartupWarning("  config broken  ")
	app.addStartupWarning("   ")
	app.startup(context.Background())

	testutil.RequireLogContains(t, logBuf, "[startup] config broken")
	if got := app.consumeStartupWarnings(); len(got) != 0 {
		t.Fatalf("warnings after startup = %v, want none", got)
	}
}

func TestStartupWarnsWhenPipeServerFails(t *testing.T) {
	stubRuntime(t)
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	newPipeServerFn = func(string, ipc.Handler) *ipc.PipeServer {
		// An invalid pipe name makes Start fail on every platform.
		return ipc.NewPipeServer(`\\.\pipe\`+strings.Repeat("x", 300)+"\x00", nil)
	}

	app := newTestApp(t, nil)
	app.startup(context.Background())

	testutil.RequireLogContains(t, logBuf, "Failed to start the activation pipe")
}

func TestStartupStartActive(t *testing.T) {
	tests := []struct {
		name        string
		startActive bool
		installErr  error
		wantActive  bool
		wantError   bool
	}{
		{name: "disabled", startActive: false},
		{name: "enabled", startActive: true, wantActive: true},
		{name: "enabled but install fails", startActive: true, installErr: errors.New("denied"), wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := stubRuntime(t)
			inst := &fakeInstaller{installErr: tt.installErr}
			app := newTestApp(t, inst)
			cfg := app.getConfigSnapshot()
			cfg.StartActive = tt.startActive
			app.setConfigSnapshot(cfg)

			app.startup(context.Background())

			if got := app.IsToddlerModeActive(); got != tt.wantActive {
				t.Fatalf("IsToddlerModeActive() = %v, want %v", got, tt.wantActive)
			}
			if got := len(rec.eventsNamed(eventAppError)) > 0; got != tt.wantError {
				t.Fatalf("app:error emitted = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestStartupRunsConfigWatcher(t *testing.T) {
	stubRuntime(t)
	started := make(chan string, 1)
	watchConfigFn = func(ctx context.Context, path string, _ func(config.Config)) error {
		started <- path
		<-ctx.Done()
		return nil
	}

	app := newTestApp(t, nil)
	app.configPath = "/tmp/toddlermode/config.yaml"
	app.startup(context.Background())

	select {
	case got := <-started:
		if got != app.configPath {
			t.Fatalf("watch path = %q, want %q", got, app.configPath)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("config watcher did not start")
	}

	app.teardown()
	if ok := waitWithTimeout(app.bgWG.Wait, time.Second); !ok {
		t.Fatal("background workers still running after teardown")
	}
}

func TestApplyConfigReloadChangesLogLevel(t *testing.T) {
	prev := slog.Default()
	logger, err := applog.Setup(t.TempDir(), slog.LevelInfo, nil)
	if err != nil {
		t.Fatalf("applog.Setup() error = %v", err)
	}
	t.Cleanup(func() {
		_ = logger.Close()
		slog.SetDefault(prev)
	})

	app := newTestApp(t, nil)
	app.setLogger(logger)

	cfg := app.getConfigSnapshot()
	cfg.LogLevel = slog.LevelDebug
	app.applyConfigReload(cfg)

	if logger.Level() != slog.LevelDebug {
		t.Fatalf("logger level = %v, want DEBUG", logger.Level())
	}
	if app.getConfigSnapshot().LogLevel != slog.LevelDebug {
		t.Fatal("config snapshot was not replaced")
	}
}

func TestApplyConfigReloadWithoutLogger(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelInfo)
	app := newTestApp(t, nil)

	cfg := app.getConfigSnapshot()
	cfg.HookStopTimeout = 5 * time.Second
	app.applyConfigReload(cfg)

	testutil.RequireLogContains(t, logBuf, "take effect after restart")
}

func TestTeardownReleasesHook(t *testing.T) {
	rec := stubRuntime(t)
	inst := &fakeInstaller{}
	app := newTestApp(t, inst)
	app.startup(context.Background())

	if err := app.ActivateToddlerMode(); err != nil {
		t.Fatalf("ActivateToddlerMode() error = %v", err)
	}
	rec.reset()

	app.teardown()
	app.teardown()

	if inst.installed() {
		t.Fatal("hook still installed after teardown")
	}
	if inst.uninstalls != 1 {
		t.Fatalf("uninstalls = %d, want 1", inst.uninstalls)
	}
	if app.runtimeContext() != nil {
		t.Fatal("runtime context not cleared by teardown")
	}
	// Window updates are skipped while shutting down.
	if calls := rec.windowCalls(); len(calls) != 0 {
		t.Fatalf("window calls during teardown = %v, want none", calls)
	}
	if err := app.ActivateToddlerMode(); err == nil {
		t.Fatal("ActivateToddlerMode() after teardown = nil, want error")
	}
}

func TestBeforeCloseDeactivates(t *testing.T) {
	stubRuntime(t)
	inst := &fakeInstaller{}
	app := newTestApp(t, inst)
	app.startup(context.Background())

	if err := app.ActivateToddlerMode(); err != nil {
		t.Fatalf("ActivateToddlerMode() error = %v", err)
	}
	if prevent := app.beforeClose(context.Background()); prevent {
		t.Fatal("beforeClose() = true, want close allowed")
	}
	if app.IsToddlerModeActive() || inst.installed() {
		t.Fatal("filtering mode still active after beforeClose")
	}
	if prevent := app.beforeClose(context.Background()); prevent {
		t.Fatal("beforeClose() while inactive = true, want false")
	}
}

func TestAwaitTerminationOnSignal(t *testing.T) {
	rec := stubRuntime(t)
	inst := &fakeInstaller{}
	app := newTestApp(t, inst)
	app.startup(context.Background())
	if err := app.ActivateToddlerMode(); err != nil {
		t.Fatalf("ActivateToddlerMode() error = %v", err)
	}

	signals := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		app.awaitTermination(signals)
		close(done)
	}()
	signals <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitTermination did not return after a signal")
	}
	if inst.installed() {
		t.Fatal("hook still installed after termination signal")
	}
	if got := rec.quitCount(); got != 1 {
		t.Fatalf("quit calls = %d, want 1", got)
	}
}

func TestAwaitTerminationReturnsAfterTeardown(t *testing.T) {
	rec := stubRuntime(t)
	app := newTestApp(t, nil)

	done := make(chan struct{})
	go func() {
		app.awaitTermination(make(chan os.Signal))
		close(done)
	}()
	app.teardown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitTermination did not return after teardown")
	}
	if got := rec.quitCount(); got != 0 {
		t.Fatalf("quit calls = %d, want 0", got)
	}
}

func TestHandleIPC(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		wantOK    bool
		wantCalls []string
	}{
		{name: "activate window", command: ipc.CommandActivateWindow, wantOK: true, wantCalls: []string{"show", "unminimise", "ontop:true", "ontop:false"}},
		{name: "unknown command", command: "reboot", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := stubRuntime(t)
			app := newTestApp(t, nil)
			app.setRuntimeContext(context.Background())

			resp := app.handleIPC(ipc.Request{Command: tt.command})
			if resp.OK != tt.wantOK {
				t.Fatalf("response = %+v, want OK=%v", resp, tt.wantOK)
			}
			if !tt.wantOK && resp.Error == "" {
				t.Fatal("failed response has no error text")
			}
			if got := rec.windowCalls(); !slices.Equal(got, tt.wantCalls) {
				t.Fatalf("window calls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestBringWindowToFrontKeepsKioskTopmost(t *testing.T) {
	rec := stubRuntime(t)
	inst := &fakeInstaller{}
	app := newTestApp(t, inst)
	app.setRuntimeContext(context.Background())
	if err := app.ActivateToddlerMode(); err != nil {
		t.Fatalf("ActivateToddlerMode() error = %v", err)
	}
	rec.reset()

	app.bringWindowToFront()

	want := []string{"show", "unminimise"}
	if got := rec.windowCalls(); !slices.Equal(got, want) {
		t.Fatalf("window calls = %v, want %v", got, want)
	}
}

func TestBringWindowToFrontSkipsWhenContextNil(t *testing.T) {
	stubRuntime(t)
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelWarn)

	app := newTestApp(t, nil)
	app.bringWindowToFront()

	if !strings.Contains(logBuf.String(), "bringWindowToFront dropped because runtime context is nil") {
		t.Fatalf("log output = %q, want bringWindowToFront nil-context warning", logBuf.String())
	}
}

func TestWaitWithTimeout(t *testing.T) {
	t.Run("returns true when wait completes immediately", func(t *testing.T) {
		if ok := waitWithTimeout(func() {}, 200*time.Millisecond); !ok {
			t.Fatal("waitWithTimeout() = false, want true for immediate wait")
		}
	})

	t.Run("returns false when wait exceeds timeout", func(t *testing.T) {
		block := make(chan struct{})
		if ok := waitWithTimeout(func() { <-block }, 20*time.Millisecond); ok {
			t.Fatal("waitWithTimeout() = true, want false on timeout")
		}
		close(block)
	})

	t.Run("returns false for zero timeout when wait is blocked", func(t *testing.T) {
		block := make(chan struct{})
		if ok := waitWithTimeout(func() { <-block }, 0); ok {
			t.Fatal("waitWithTimeout() = true, want false for zero-timeout blocked wait")
		}
		close(block)
	})
}

func TestWailsRuntimeLoggerFallsBackOnNilContext(t *testing.T) {
	logBuf := testutil.CaptureLogBuffer(t, slog.LevelDebug)

	logger := wailsRuntimeLogger{}
	logger.Warningf(nil, "warn %d", 1)
	logger.Infof(nil, "info %d", 2)
	logger.Errorf(nil, "error %d", 3)

	testutil.RequireLogContains(t, logBuf, "warn 1", "info 2", "error 3")
}
