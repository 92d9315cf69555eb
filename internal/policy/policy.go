// Package policy decides what happens to each key transition while the
// keyboard is being filtered.
//
// The blocked set is fixed. Decide is pure: it reads the pressed-key state it
// is given and nothing else, and it never allocates, so it is safe to call
// from the low-level hook callback.
package policy

import "toddlermode/internal/keys"

// Decision is the outcome for one key transition.
type Decision uint8

const (
	// PassThrough hands the event to the next hook and the focused window.
	PassThrough Decision = iota
	// Suppress swallows the event.
	Suppress
	// SuppressAndExitMode swallows the event and asks the controller to leave
	// filtering mode.
	SuppressAndExitMode
)

func (d Decision) String() string {
	switch d {
	case PassThrough:
		return "pass-through"
	case Suppress:
		return "suppress"
	case SuppressAndExitMode:
		return "suppress-and-exit"
	default:
		return "unknown"
	}
}

// Swallow reports whether the event must not reach the next hook.
func (d Decision) Swallow() bool {
	return d == Suppress || d == SuppressAndExitMode
}

// Rule identifies which policy rule produced a decision.
type Rule uint8

// Rules. Apart from RuleDefault (ordinary typing), they are listed in
// evaluation order.
const (
	RuleDefault Rule = iota
	RuleSafetyEscape
	RuleInactive
	RuleParentalExit
	RuleToggleFocus
	RuleWindowSwitch
	RuleWinKey
	RuleStartMenu
	RuleFunctionKey
)

var ruleNames = [...]string{
	RuleDefault:      "default",
	RuleSafetyEscape: "safety-escape",
	RuleInactive:     "inactive",
	RuleParentalExit: "parental-exit",
	RuleToggleFocus:  "toggle-focus",
	RuleWindowSwitch: "window-switch",
	RuleWinKey:       "win-key",
	RuleStartMenu:    "start-menu",
	RuleFunctionKey:  "function-key",
}

func (r Rule) String() string {
	if int(r) < len(ruleNames) {
		return ruleNames[r]
	}
	return "unknown"
}

// KeyState is the read side of the pressed-key set.
type KeyState interface {
	IsDown(k keys.Key) bool
	AnyOf(ks ...keys.Key) bool
}

// Input is everything one decision depends on. Pressed must already reflect
// the current transition.
type Input struct {
	Key           keys.Key
	Transition    keys.Transition
	Pressed       KeyState
	ModeActive    bool
	ToggleFocused bool
}

// Decide returns the decision for in.
func Decide(in Input) Decision {
	d, _ := Evaluate(in)
	return d
}

// Evaluate returns the decision for in together with the rule that produced
// it. Rules are checked in a fixed order and the first match wins; the safety
// escape comes first so no later rule can ever swallow Ctrl+Alt+Delete.
func Evaluate(in Input) (Decision, Rule) {
	pressed := in.Pressed
	if pressed == nil {
		pressed = noKeys{}
	}
	ctrl := pressed.AnyOf(keys.CtrlKeys...)
	alt := pressed.AnyOf(keys.AltKeys...)

	if ctrl && alt && pressed.IsDown(keys.Delete) {
		return PassThrough, RuleSafetyEscape
	}
	if !in.ModeActive {
		return PassThrough, RuleInactive
	}
	if in.Key == keys.Escape && ctrl && alt {
		// One physical press asks for exactly one exit; the matching release
		// is still swallowed so Escape never leaks into the focused window.
		if in.Transition == keys.Up {
			return Suppress, RuleParentalExit
		}
		return SuppressAndExitMode, RuleParentalExit
	}
	if (in.Key == keys.Enter || in.Key == keys.Space) && in.ToggleFocused {
		return Suppress, RuleToggleFocus
	}
	if alt && (in.Key == keys.Tab || in.Key == keys.F4) {
		return Suppress, RuleWindowSwitch
	}
	if in.Key.IsWin() || pressed.AnyOf(keys.WinKeys...) {
		return Suppress, RuleWinKey
	}
	if ctrl && in.Key == keys.Escape {
		return Suppress, RuleStartMenu
	}
	if in.Key.IsFunctionKey() {
		return Suppress, RuleFunctionKey
	}
	return PassThrough, RuleDefault
}

type noKeys struct{}

func (noKeys) IsDown(keys.Key) bool { return false }
func (noKeys) AnyOf(...keys.Key) bool { return false }
