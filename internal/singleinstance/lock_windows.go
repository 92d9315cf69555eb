//go:build windows

package singleinstance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// acquire owns a named mutex in the Local\ namespace, which scopes it to the
// logon session: another user signed in through fast user switching can run
// their own copy.
func acquire(name string) (func() error, error) {
	full := `Local\` + name
	nameUTF16, err := windows.UTF16PtrFromString(full)
	if err != nil {
		return nil, fmt.Errorf("invalid mutex name %q: %w", full, err)
	}
	h, err := windows.CreateMutex(nil, true, nameUTF16)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if h != 0 {
			windows.CloseHandle(h)
		}
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		if h != 0 {
			windows.CloseHandle(h)
		}
		return nil, fmt.Errorf("CreateMutex %q: %w", full, err)
	}
	return func() error { return windows.CloseHandle(h) }, nil
}
