// Package singleinstance keeps one ToddlerMode per user session. Two copies
// would each install a keyboard hook and fight over the kiosk window.
package singleinstance

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"toddlermode/internal/userutil"
)

const appName = "ToddlerMode"

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Lock is held until Release or process exit. The OS drops it if the
// process dies without calling Release.
type Lock struct {
	name    string
	once    sync.Once
	release func() error
	err     error
}

// TryLock takes the lock called name, or returns ErrAlreadyRunning when
// another process holds it. name must be a plain token such as DefaultName
// returns; the platform namespace is added here.
func TryLock(name string) (*Lock, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid lock name %q", name)
	}
	release, err := acquire(name)
	if err != nil {
		return nil, err
	}
	return &Lock{name: name, release: release}, nil
}

// Name returns the name passed to TryLock.
func (l *Lock) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// Release gives the lock up. Safe on a nil receiver and idempotent; later
// calls return the first call's error.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		if l.release != nil {
			l.err = l.release()
		}
	})
	return l.err
}

// DefaultName is the per-user lock name, e.g. "ToddlerMode-kid".
func DefaultName() string {
	return userutil.ObjectName(appName)
}
