//go:build windows

package main

import (
	"log/slog"

	"golang.org/x/sys/windows"
)

const cpUTF8 = 65001

var (
	modKernel32         = windows.NewLazySystemDLL("kernel32.dll")
	procSetConsoleCP    = modKernel32.NewProc("SetConsoleCP")
	procSetConsoleOutCP = modKernel32.NewProc("SetConsoleOutputCP")
)

// setConsoleUTF8 switches an attached console to UTF-8 so log lines with
// non-ASCII paths render. GUI launches have no console and the calls fail
// harmlessly.
func setConsoleUTF8() {
	if r, _, err := procSetConsoleOutCP.Call(cpUTF8); r == 0 {
		slog.Debug("[console] SetConsoleOutputCP failed", "error", err)
	}
	if r, _, err := procSetConsoleCP.Call(cpUTF8); r == 0 {
		slog.Debug("[console] SetConsoleCP failed", "error", err)
	}
}
