//go:build !windows

package hook

// startOSHook fails on platforms without WH_KEYBOARD_LL. The manager and the
// dispatch path still build so the rest of the program can be tested.
func startOSHook(_ *session) (osHook, error) {
	return nil, &InstallError{Op: "SetWindowsHookEx", Err: ErrUnsupported}
}
