package main

import "toddlermode/internal/sessionlog"

// GetSessionErrorLog returns the warnings and errors logged during this run,
// oldest first. The frontend re-reads it on app:session-log-updated.
func (a *App) GetSessionErrorLog() []sessionlog.Entry {
	return a.sessionLog.Snapshot()
}

// GetLogFilePath returns the current log file, or "" when logging only to
// stderr.
func (a *App) GetLogFilePath() string {
	if l := a.currentLogger(); l != nil {
		return l.Path()
	}
	return ""
}
