package main

import (
	"context"
	"log/slog"
)

// Runtime events consumed by frontend/dist/app.js.
const (
	eventModeChanged       = "toddler:mode-changed"
	eventClearFocus        = "toddler:clear-focus"
	eventAppError          = "app:error"
	eventSessionLogUpdated = "app:session-log-updated"
)

// appErrorPayload is the body of an app:error event.
type appErrorPayload struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// emitRuntimeEvent emits via the app context and delegates to emitRuntimeEventWithContext.
func (a *App) emitRuntimeEvent(name string, payload any) {
	a.emitRuntimeEventWithContext(a.runtimeContext(), name, payload)
}

// emitRuntimeEventWithContext emits a runtime event only when ctx is non-nil.
// Prefer this helper for best-effort contexts that may not be initialized yet.
func (a *App) emitRuntimeEventWithContext(ctx context.Context, name string, payload any) {
	if ctx == nil {
		slog.Warn("[EVENT] runtime event dropped because app context is nil", "event", name)
		return
	}
	runtimeEventsEmitFn(ctx, name, payload)
}

// notifySessionLogUpdated pings the frontend to re-read the session log.
// It runs inside the slog handler chain, so it must not log: a warning here
// would be teed back into the buffer and ping again.
func (a *App) notifySessionLogUpdated() {
	ctx := a.runtimeContext()
	if ctx == nil || a.shuttingDown.Load() {
		return
	}
	runtimeEventsEmitFn(ctx, eventSessionLogUpdated, nil)
}
