package main

import (
	"log/slog"

	"toddlermode/internal/mode"
)

// ActivateToddlerMode enters filtering mode. On failure the state stays
// Inactive, the error is returned and an app:error event is emitted.
func (a *App) ActivateToddlerMode() error {
	if err := a.mode.Activate(); err != nil {
		slog.Error("[mode] failed to enter filtering mode", "error", err)
		a.emitRuntimeEvent(eventAppError, appErrorPayload{
			Message: "Could not restrict the keyboard.",
			Detail:  err.Error(),
		})
		return err
	}
	return nil
}

// DeactivateToddlerMode leaves filtering mode. It never fails.
func (a *App) DeactivateToddlerMode() {
	a.mode.Deactivate()
}

// IsToddlerModeActive reports whether filtering mode is Active.
func (a *App) IsToddlerModeActive() bool {
	return a.mode.IsActive()
}

// SetToggleFocused is called by the frontend when the mode toggle gains or
// loses keyboard focus.
func (a *App) SetToggleFocused(focused bool) {
	a.mode.SetToggleFocused(focused)
}

func (a *App) handleModeChanged(change mode.Change) {
	if !a.advanceChangeSeq(change.Seq) {
		slog.Debug("[mode] dropping stale mode change", "seq", change.Seq, "state", change.State)
		return
	}
	slog.Info("[mode] mode changed",
		"state", change.State,
		"reason", change.Reason,
		"activationId", change.ActivationID,
		"seq", change.Seq,
	)

	ctx := a.runtimeContext()
	if ctx == nil || a.shuttingDown.Load() {
		return
	}
	a.applyWindowMode(ctx, change.State == mode.Active)
	a.emitRuntimeEventWithContext(ctx, eventModeChanged, change)
}

// advanceChangeSeq records seq as the newest change and reports whether it
// was newer than every change seen before.
func (a *App) advanceChangeSeq(seq uint64) bool {
	for {
		last := a.lastChangeSeq.Load()
		if seq <= last {
			return false
		}
		if a.lastChangeSeq.CompareAndSwap(last, seq) {
			return true
		}
	}
}

func (a *App) handleClearFocus() {
	ctx := a.runtimeContext()
	if ctx == nil || a.shuttingDown.Load() {
		return
	}
	a.emitRuntimeEventWithContext(ctx, eventClearFocus, nil)
}
