package main

import (
	"log/slog"
	"os"
	"runtime/debug"
)

const panicExitCode = 2

var exitFn = os.Exit

// handleMainPanic logs a panic that reached main, releases the keyboard hook
// and exits. Use as: defer func() { app.handleMainPanic(recover()) }().
func (a *App) handleMainPanic(recovered any) {
	if recovered == nil {
		return
	}
	slog.Error("[DEBUG-PANIC] unhandled panic in main, releasing keyboard and exiting",
		"panic", recovered,
		"stack", string(debug.Stack()),
	)
	a.teardown()
	exitFn(panicExitCode)
}
