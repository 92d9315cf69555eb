// Package userutil builds per-user names for kernel objects such as the
// single-instance mutex and the activation pipe.
package userutil

import (
	"os"
	"os/user"
	"regexp"
	"strings"
)

var invalidUsernameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

var currentUserFn = user.Current

// SanitizeUsername makes a username safe for object names.
func SanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidUsernameRune.ReplaceAllString(value, "_")
}

// CurrentUsername prefers %USERNAME% and falls back to the account lookup.
// It returns "" when neither is available.
func CurrentUsername() string {
	if name := strings.TrimSpace(os.Getenv("USERNAME")); name != "" {
		return name
	}
	if current, err := currentUserFn(); err == nil {
		return current.Username
	}
	return ""
}

// ObjectName returns "<app>-<sanitized current user>".
func ObjectName(app string) string {
	return app + "-" + SanitizeUsername(CurrentUsername())
}
