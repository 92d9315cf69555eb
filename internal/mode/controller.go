// Package mode owns the filtering-mode state machine.
//
// A Controller flips between Inactive and Active. Activation installs the
// keyboard hook with HandleKey as its callback; deactivation removes it. The
// hook thread only ever touches atomics and non-blocking channel sends, so it
// can never wait on a transition in progress. Exit and focus requests raised on
// the hook thread are drained by a worker goroutine started with Start.
package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"toddlermode/internal/hook"
	"toddlermode/internal/keys"
	"toddlermode/internal/keystate"
	"toddlermode/internal/policy"
	"toddlermode/internal/workerutil"
)

// State is the filtering mode.
type State uint32

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name for JSON payloads sent to the UI.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason says what caused a mode change.
type Reason string

const (
	ReasonUser         Reason = "user"
	ReasonParentalExit Reason = "parental-exit"
	ReasonShutdown     Reason = "shutdown"
)

// Change describes one completed transition. Seq increases by one per
// transition; listeners run outside the transition lock, so a listener that
// cares about ordering should drop changes older than the last Seq it saw.
type Change struct {
	State        State  `json:"state"`
	ActivationID string `json:"activationId"`
	Reason       Reason `json:"reason"`
	Seq          uint64 `json:"seq"`
}

// ErrClosed is returned by Activate after Close.
var ErrClosed = errors.New("mode controller is closed")

const workerName = "mode-requests"

// Controller is safe for concurrent use.
type Controller struct {
	installer hook.Installer
	tracker   *keystate.Tracker
	newID     func() string

	// transitionMu serialises Activate, Deactivate and Close. The hook thread
	// never takes it.
	transitionMu sync.Mutex
	handle       hook.Handle
	installed    bool
	closed       bool
	seq          uint64

	state         atomic.Uint32
	toggleFocused atomic.Bool
	activationID  atomic.Pointer[string]
	closing       atomic.Bool

	exitCh  chan struct{}
	focusCh chan struct{}

	listenerMu     sync.RWMutex
	changeHandlers []func(Change)
	focusHandlers  []func()

	workerMu     sync.Mutex
	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithIDFunc replaces the activation ID generator (uuid.NewString).
func WithIDFunc(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New returns an Inactive controller that installs hooks through installer.
func New(installer hook.Installer, opts ...Option) *Controller {
	c := &Controller{
		installer: installer,
		tracker:   keystate.New(),
		newID:     uuid.NewString,
		exitCh:    make(chan struct{}, 1),
		focusCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if n, ok := installer.(lostNotifier); ok {
		n.OnLost(c.hookLost)
	}
	return c
}

// lostNotifier is implemented by installers that can report a hook that went
// away on its own, such as *hook.Manager.
type lostNotifier interface {
	OnLost(func(hook.Handle))
}

// hookLost leaves filtering mode when the live hook h disappeared without
// Uninstall. A handle from an earlier activation is ignored.
func (c *Controller) hookLost(h hook.Handle) {
	c.transitionMu.Lock()
	if !c.installed || c.handle != h {
		c.transitionMu.Unlock()
		return
	}
	change, changed := c.deactivateLocked(ReasonShutdown)
	c.transitionMu.Unlock()
	if changed {
		c.fireModeChanged(change)
	}
}

// Start launches the worker that serves exit and clear-focus requests. It
// runs until ctx is cancelled or Close is called. Calling Start more than
// once, or after Close, does nothing.
func (c *Controller) Start(ctx context.Context) {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.workerCancel != nil || c.closing.Load() {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	c.workerCancel = cancel
	workerutil.RunWithPanicRecovery(workerCtx, workerName, &c.workerWG, c.serveRequests, workerutil.RecoveryOptions{
		IsShutdown: c.closing.Load,
		OnFatal: func(worker string, maxRetries int) {
			// Without the worker the parental exit no longer works. Leave the
			// mode so the keyboard is not left filtered with no way out.
			slog.Error("[mode] request worker stopped permanently, leaving filtering mode",
				"worker", worker, "maxRetries", maxRetries)
			c.deactivate(ReasonShutdown)
		},
	})
}

func (c *Controller) serveRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.exitCh:
			slog.Info("[mode] parental exit requested")
			c.deactivate(ReasonParentalExit)
		case <-c.focusCh:
			c.fireClearFocus()
		}
	}
}

// Close leaves filtering mode, whatever the current state, and stops the
// worker. It is idempotent and must not be called from a mode listener.
func (c *Controller) Close() {
	c.closing.Store(true)

	c.transitionMu.Lock()
	c.closed = true
	change, changed := c.deactivateLocked(ReasonShutdown)
	c.transitionMu.Unlock()
	if changed {
		c.fireModeChanged(change)
	}

	c.workerMu.Lock()
	cancel := c.workerCancel
	c.workerMu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.workerWG.Wait()
}

// Activate enters filtering mode. It is a no-op when already Active. When
// the hook cannot be installed the state stays Inactive and the error wraps
// hook.ErrInstall.
func (c *Controller) Activate() error {
	c.transitionMu.Lock()
	if c.closed {
		c.transitionMu.Unlock()
		return ErrClosed
	}
	if c.installed {
		c.transitionMu.Unlock()
		return nil
	}

	c.tracker.Clear()
	c.toggleFocused.Store(false)
	// Drop an exit request left over from the previous activation.
	select {
	case <-c.exitCh:
	default:
	}
	h, err := c.installer.Install(c.HandleKey)
	if err != nil {
		c.transitionMu.Unlock()
		slog.Debug("[mode] activation failed", "error", err)
		return fmt.Errorf("activate filtering mode: %w", err)
	}
	c.handle = h
	c.installed = true
	id := c.newID()
	c.activationID.Store(&id)
	c.state.Store(uint32(Active))
	c.seq++
	change := Change{State: Active, ActivationID: id, Reason: ReasonUser, Seq: c.seq}
	c.transitionMu.Unlock()

	slog.Info("[mode] filtering mode active", "activationID", id, "hook", h.ID())
	c.fireModeChanged(change)
	return nil
}

// Deactivate leaves filtering mode. From Inactive it only clears the
// pressed-key set.
func (c *Controller) Deactivate() {
	c.deactivate(ReasonUser)
}

func (c *Controller) deactivate(reason Reason) {
	c.transitionMu.Lock()
	change, changed := c.deactivateLocked(reason)
	c.transitionMu.Unlock()
	if changed {
		c.fireModeChanged(change)
	}
}

func (c *Controller) deactivateLocked(reason Reason) (Change, bool) {
	if !c.installed {
		c.tracker.Clear()
		return Change{}, false
	}

	// Flip the state first so events still in flight are passed through.
	c.state.Store(uint32(Inactive))
	c.installer.Uninstall(c.handle)
	c.handle = hook.Handle{}
	c.installed = false
	c.tracker.Clear()

	id := c.ActivationID()
	c.activationID.Store(nil)
	c.seq++
	slog.Info("[mode] filtering mode inactive", "activationID", id, "reason", reason)
	return Change{State: Inactive, ActivationID: id, Reason: reason, Seq: c.seq}, true
}

// IsActive reports whether filtering mode is on.
func (c *Controller) IsActive() bool {
	return c.State() == Active
}

// State returns the current mode.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// ActivationID identifies the current activation, or is empty when Inactive.
func (c *Controller) ActivationID() string {
	if id := c.activationID.Load(); id != nil {
		return *id
	}
	return ""
}

// SetToggleFocused records whether the UI's mode toggle has keyboard focus.
func (c *Controller) SetToggleFocused(focused bool) {
	c.toggleFocused.Store(focused)
}

// OnModeChanged registers fn to run after every transition.
func (c *Controller) OnModeChanged(fn func(Change)) {
	if fn == nil {
		return
	}
	c.listenerMu.Lock()
	c.changeHandlers = append(c.changeHandlers, fn)
	c.listenerMu.Unlock()
}

// OnClearFocus registers fn to run on the worker whenever Enter or Space was
// swallowed because the toggle had focus.
func (c *Controller) OnClearFocus(fn func()) {
	if fn == nil {
		return
	}
	c.listenerMu.Lock()
	c.focusHandlers = append(c.focusHandlers, fn)
	c.listenerMu.Unlock()
}

// HandleKey is the hook callback. It runs on the hook thread and must stay
// lock-free.
func (c *Controller) HandleKey(ev keys.Event) policy.Decision {
	c.tracker.Update(ev)
	decision, rule := policy.Evaluate(policy.Input{
		Key:           ev.Key,
		Transition:    ev.Transition,
		Pressed:       c.tracker,
		ModeActive:    c.IsActive(),
		ToggleFocused: c.toggleFocused.Load(),
	})
	switch {
	case decision == policy.SuppressAndExitMode:
		signal(c.exitCh)
	case rule == policy.RuleToggleFocus && ev.Transition == keys.Down:
		signal(c.focusCh)
	}
	return decision
}

// signal posts a coalesced request without blocking.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Controller) fireModeChanged(change Change) {
	c.listenerMu.RLock()
	handlers := c.changeHandlers
	c.listenerMu.RUnlock()
	for _, fn := range handlers {
		callListener("mode-changed", func() { fn(change) })
	}
}

func (c *Controller) fireClearFocus() {
	c.toggleFocused.Store(false)
	c.listenerMu.RLock()
	handlers := c.focusHandlers
	c.listenerMu.RUnlock()
	for _, fn := range handlers {
		callListener("clear-focus", fn)
	}
}

// callListener keeps a faulty listener from taking the transition path or
// the worker down with it.
func callListener(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[DEBUG-PANIC] mode listener recovered from panic",
				"listener", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
