// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// CaptureLogBuffer points the default slog logger at an in-memory text
// buffer for the rest of the test. The previous logger comes back in
// t.Cleanup.
func CaptureLogBuffer(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// RequireLogContains fails the test unless every want appears in buf.
func RequireLogContains(t *testing.T, buf *bytes.Buffer, want ...string) {
	t.Helper()
	out := buf.String()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Fatalf("log output = %q, want %q", out, w)
		}
	}
}
