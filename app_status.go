package main

import (
	"toddlermode/internal/hook"
	"toddlermode/internal/mode"
)

const (
	statusTextInactive = "Inactive"
	statusTextActive   = "Active - Keyboard restricted"
)

// Status is the window's view of the current mode.
type Status struct {
	State        mode.State `json:"state"`
	Active       bool       `json:"active"`
	Text         string     `json:"text"`
	ActivationID string     `json:"activationId,omitempty"`
	// Hook counts events seen by the live registration; zero while Inactive.
	Hook hook.Stats `json:"hook"`
}

type hookStatsSource interface {
	Stats() hook.Stats
}

// GetStatus returns the current mode and status text.
func (a *App) GetStatus() Status {
	state := a.mode.State()
	status := Status{
		State:        state,
		Active:       state == mode.Active,
		Text:         statusText(state),
		ActivationID: a.mode.ActivationID(),
	}
	if src, ok := a.hooks.(hookStatsSource); ok && status.Active {
		status.Hook = src.Stats()
	}
	return status
}

func statusText(state mode.State) string {
	if state == mode.Active {
		return statusTextActive
	}
	return statusTextInactive
}
