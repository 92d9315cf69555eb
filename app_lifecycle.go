package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"toddlermode/internal/config"
	"toddlermode/internal/ipc"
	"toddlermode/internal/workerutil"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

type appRuntimeLogger interface {
	Warningf(context.Context, string, ...interface{})
	Infof(context.Context, string, ...interface{})
	Errorf(context.Context, string, ...interface{})
}

type wailsRuntimeLogger struct{}

func formatRuntimeLogMessage(message string, args ...interface{}) string {
	if len(args) == 0 {
		return message
	}
	return fmt.Sprintf(message, args...)
}

func (wailsRuntimeLogger) Warningf(ctx context.Context, message string, args ...interface{}) {
	if ctx == nil {
		slog.Warn(formatRuntimeLogMessage(message, args...))
		return
	}
	runtime.LogWarningf(ctx, message, args...)
}

func (wailsRuntimeLogger) Infof(ctx context.Context, message string, args ...interface{}) {
	if ctx == nil {
		slog.Info(formatRuntimeLogMessage(message, args...))
		return
	}
	runtime.LogInfof(ctx, message, args...)
}

func (wailsRuntimeLogger) Errorf(ctx context.Context, message string, args ...interface{}) {
	if ctx == nil {
		slog.Error(formatRuntimeLogMessage(message, args...))
		return
	}
	runtime.LogErrorf(ctx, message, args...)
}

var (
	runtimeEventsEmitFn                            = runtime.EventsEmit
	runtimeLogger                 appRuntimeLogger = wailsRuntimeLogger{}
	runtimeQuitFn                                  = runtime.Quit
	newPipeServerFn                                = ipc.NewPipeServer
	watchConfigFn                                  = config.Watch
	runtimeWindowShowFn                            = runtime.WindowShow
	runtimeWindowUnminimiseFn                      = runtime.WindowUnminimise
	runtimeWindowSetAlwaysOnTopFn                  = runtime.WindowSetAlwaysOnTop
	runtimeWindowFullscreenFn                      = runtime.WindowFullscreen
	runtimeWindowUnfullscreenFn                    = runtime.WindowUnfullscreen
)

const shutdownWaitTimeout = 10 * time.Second

func (a *App) addStartupWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	a.startupWarnMu.Lock()
	a.startupWarnings = append(a.startupWarnings, trimmed)
	a.startupWarnMu.Unlock()
}

func (a *App) consumeStartupWarnings() []string {
	a.startupWarnMu.Lock()
	defer a.startupWarnMu.Unlock()
	warnings := a.startupWarnings
	a.startupWarnings = nil
	return warnings
}

// flushStartupWarnings logs warnings collected before the window existed.
// Each one reaches the session log and so the frontend.
func (a *App) flushStartupWarnings() {
	for _, message := range a.consumeStartupWarnings() {
		slog.Warn("[startup] " + message)
	}
}

func (a *App) startup(ctx context.Context) {
	setConsoleUTF8()

	a.setRuntimeContext(ctx)
	a.mode.Start(a.bgCtx)

	a.pipeServer = newPipeServerFn(ipc.DefaultPipeName(), ipc.HandlerFunc(a.handleIPC))
	if err := a.pipeServer.Start(); err != nil {
		runtimeLogger.Errorf(ctx, "pipe server failed: %v", err)
		a.addStartupWarning("Failed to start the activation pipe. A second launch will not raise this window. Error: " + err.Error())
	} else {
		runtimeLogger.Infof(ctx, "pipe server listening: %s", a.pipeServer.PipeName())
	}

	a.startConfigWatcher()
	a.flushStartupWarnings()

	if a.getConfigSnapshot().StartActive {
		// Failure is already reported to the UI by ActivateToddlerMode.
		_ = a.ActivateToddlerMode()
	}
}

func (a *App) startConfigWatcher() {
	if a.configPath == "" {
		slog.Debug("[config] no config path, watcher disabled")
		return
	}
	workerutil.RunWithPanicRecovery(a.bgCtx, "config-watch", &a.bgWG, func(ctx context.Context) {
		if err := watchConfigFn(ctx, a.configPath, a.applyConfigReload); err != nil {
			slog.Warn("[config] watcher stopped", "path", a.configPath, "error", err)
		}
	}, workerutil.RecoveryOptions{IsShutdown: a.shuttingDown.Load})
}

func (a *App) shutdown(_ context.Context) {
	a.teardown()
}

// beforeClose leaves filtering mode before the window goes away. Closing is
// never prevented.
func (a *App) beforeClose(_ context.Context) bool {
	if a.mode.IsActive() {
		slog.Info("[mode] window closing, leaving filtering mode")
		a.mode.Deactivate()
	}
	return false
}

// teardown releases the keyboard hook and stops background work. Every exit
// path calls it; only the first call does anything.
func (a *App) teardown() {
	a.teardownOnce.Do(func() {
		logCtx := a.runtimeContext()
		a.shuttingDown.Store(true)

		a.mode.Close()
		a.bgCancel()

		if a.pipeServer != nil {
			if err := a.pipeServer.Stop(); err != nil {
				runtimeLogger.Warningf(logCtx, "pipe server stop failed: %v", err)
			}
		}
		if !waitWithTimeout(a.bgWG.Wait, shutdownWaitTimeout) {
			runtimeLogger.Warningf(logCtx, "timed out waiting for background workers during shutdown")
		}
		a.setRuntimeContext(nil)
	})
}

// awaitTermination tears down on SIGINT/SIGTERM and asks Wails to quit. It
// returns without action once background work is cancelled.
func (a *App) awaitTermination(signals <-chan os.Signal) {
	select {
	case <-a.bgCtx.Done():
		return
	case sig := <-signals:
		slog.Info("[signal] termination requested", "signal", sig.String())
		ctx := a.runtimeContext()
		a.teardown()
		if ctx != nil {
			runtimeQuitFn(ctx)
		}
	}
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	// Best effort timeout guard for shutdown paths. The waiting goroutine may
	// outlive timeout when waitFn blocks indefinitely, but this function is only
	// used during process shutdown where eventual completion is expected.
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (a *App) handleIPC(req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandActivateWindow:
		a.bringWindowToFront()
		return ipc.Response{OK: true}
	default:
		slog.Warn("[ipc] unknown command", "command", req.Command)
		return ipc.Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

// bringWindowToFront shows and raises the application window.
// Used when a second instance signals the first to activate.
func (a *App) bringWindowToFront() {
	ctx := a.runtimeContext()
	if ctx == nil {
		slog.Warn("[DEBUG-IPC] bringWindowToFront dropped because runtime context is nil")
		return
	}
	if a.mode.IsActive() {
		// Already topmost; dropping always-on-top here would undo the kiosk window.
		runtimeWindowShowFn(ctx)
		runtimeWindowUnminimiseFn(ctx)
		return
	}
	a.raiseWindow(ctx)
}

func (a *App) raiseWindow(ctx context.Context) {
	runtimeWindowShowFn(ctx)
	runtimeWindowUnminimiseFn(ctx)
	runtimeWindowSetAlwaysOnTopFn(ctx, true)
	runtimeWindowSetAlwaysOnTopFn(ctx, false)
}

// applyWindowMode makes the window a fullscreen topmost kiosk while
// filtering, and restores it afterwards.
func (a *App) applyWindowMode(ctx context.Context, active bool) {
	if active {
		runtimeWindowShowFn(ctx)
		runtimeWindowUnminimiseFn(ctx)
		runtimeWindowFullscreenFn(ctx)
		runtimeWindowSetAlwaysOnTopFn(ctx, true)
		return
	}
	runtimeWindowSetAlwaysOnTopFn(ctx, false)
	runtimeWindowUnfullscreenFn(ctx)
}
