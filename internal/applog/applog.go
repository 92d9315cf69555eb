// Package applog configures the process-wide slog logger.
//
// Records go to a per-run text file and to stderr. Warnings and errors are
// also teed to a sessionlog sink for the window. The level lives in a
// slog.LevelVar so a config reload can change it without rebuilding handlers.
package applog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"toddlermode/internal/sessionlog"
)

const (
	filePrefix = "toddlermode-"
	fileSuffix = ".log"
	// MaxFiles is how many run logs are kept in the log directory.
	MaxFiles = 20
)

var (
	stderr io.Writer = os.Stderr
	nowFn            = time.Now
)

// Logger owns the current log file. The zero value is not usable; use Setup.
type Logger struct {
	level    *slog.LevelVar
	previous *slog.Logger

	mu   sync.Mutex
	file *os.File
	path string
}

// Setup installs the default logger. dir is created if needed. When the log
// file cannot be opened the logger still writes to stderr and the returned
// error says why; the Logger is usable either way.
func Setup(dir string, level slog.Level, sink sessionlog.Sink) (*Logger, error) {
	l := &Logger{level: new(slog.LevelVar), previous: slog.Default()}
	l.level.Set(level)

	var out io.Writer = stderr
	file, path, openErr := openRunFile(dir)
	if openErr == nil {
		l.file = file
		l.path = path
		// File first: a GUI process may have no usable stderr, and MultiWriter
		// stops at the first failing writer.
		out = io.MultiWriter(file, stderr)
	}

	base := slog.NewTextHandler(out, &slog.HandlerOptions{Level: l.level})
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(base, slog.LevelWarn, sink)))

	if openErr != nil {
		return l, fmt.Errorf("open log file in %s: %w", dir, openErr)
	}
	pruneOldFiles(dir, filepath.Base(path), MaxFiles)
	slog.Info("[applog] logging initialized", "path", path, "level", level)
	return l, nil
}

func openRunFile(dir string) (*os.File, string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, "", fmt.Errorf("log directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", err
	}
	// PID avoids collisions between runs started within the same second.
	name := fmt.Sprintf("%s%s-%d%s", filePrefix, nowFn().Format("20060102-150405"), os.Getpid(), fileSuffix)
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// pruneOldFiles deletes the oldest run logs beyond keep, never current.
// Names sort by timestamp, which is close enough to age for cleanup.
func pruneOldFiles(dir, current string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("[applog] failed to read log directory for cleanup", "dir", dir, "error", err)
		return
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	excess := len(names) - keep
	for _, name := range names {
		if excess <= 0 {
			break
		}
		if name == current {
			continue
		}
		target := filepath.Join(dir, name)
		if err := os.Remove(target); err != nil {
			slog.Warn("[applog] failed to delete old log file", "path", target, "error", err)
			continue
		}
		slog.Debug("[applog] deleted old log file", "path", target)
		excess--
	}
}

// SetLevel changes the minimum level of every handler built by Setup.
func (l *Logger) SetLevel(level slog.Level) {
	if old := l.level.Level(); old != level {
		l.level.Set(level)
		slog.Info("[applog] log level changed", "from", old, "to", level)
	}
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Path returns the log file path, or "" when logging to stderr only.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close restores the logger that was the default before Setup and closes the
// file. It is safe to call more than once.
func (l *Logger) Close() error {
	slog.SetDefault(l.previous)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
