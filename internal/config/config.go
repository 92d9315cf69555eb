// Package config loads the read-only ToddlerMode settings file.
//
// The program never writes the file. A missing file means defaults; a value
// that fails validation falls back to its default with a warning.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB

	appDirName     = "ToddlerMode"
	configFileName = "config.yaml"
	logDirName     = "logs"

	DefaultHookStopTimeout = 2 * time.Second
	MinHookStopTimeout     = 100 * time.Millisecond
	MaxHookStopTimeout     = 10 * time.Second
)

var userHomeDirFn = os.UserHomeDir
var windowsEnvTokenPattern = regexp.MustCompile(`%[A-Za-z_][A-Za-z0-9_]*%`)
var posixEnvTokenPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)

var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := make([]string, len(defaultPathWarningState.messages))
	copy(out, defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// Config is the validated settings set.
type Config struct {
	LogLevel        slog.Level    `json:"log_level"`
	LogDir          string        `json:"log_dir"`
	StartActive     bool          `json:"start_active"`
	HookStopTimeout time.Duration `json:"hook_stop_timeout"`
	SingleInstance  bool          `json:"single_instance"`
}

// fileConfig is the on-disk shape. Scalars are strings or pointers so that a
// bad value can be told apart from a missing one.
type fileConfig struct {
	LogLevel        string `yaml:"log_level"`
	LogDir          string `yaml:"log_dir"`
	StartActive     *bool  `yaml:"start_active"`
	HookStopTimeout string `yaml:"hook_stop_timeout"`
	SingleInstance  *bool  `yaml:"single_instance"`
}

// DefaultConfig returns the settings used when no file exists. The log
// directory sits next to the default config file.
func DefaultConfig() Config {
	return defaultsFor(DefaultPath())
}

func defaultsFor(path string) Config {
	return Config{
		LogLevel:        slog.LevelInfo,
		LogDir:          filepath.Join(filepath.Dir(path), logDirName),
		StartActive:     false,
		HookStopTimeout: DefaultHookStopTimeout,
		SingleInstance:  true,
	}
}

// DefaultPath resolves the config file path, preferring LOCALAPPDATA over
// APPDATA, falling back to ~/.config when both are unset, and then to
// os.TempDir() if the home directory cannot be resolved.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("LOCALAPPDATA"))
	if base == "" {
		base = strings.TrimSpace(os.Getenv("APPDATA"))
	}
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve LOCALAPPDATA/APPDATA/home directory. Using temp directory; log files may not survive a restart.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, appDirName, configFileName)
}

// Load reads the config file at path. A missing or empty file yields the
// defaults. A parse error returns the defaults together with the error.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), errors.New("config path required")
	}
	cfg := defaultsFor(path)

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(raw) == 0 {
		return cfg, nil
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyFileConfig(&cfg, fc)
	return cfg, nil
}

// applyFileConfig copies every valid field of fc onto cfg.
// MUTATES: cfg is directly modified.
func applyFileConfig(cfg *Config, fc fileConfig) {
	if s := strings.TrimSpace(fc.LogLevel); s != "" {
		level, err := ParseLevel(s)
		if err != nil {
			slog.Warn("[WARN-CONFIG] log_level invalid, using default", "value", s, "default", cfg.LogLevel)
		} else {
			cfg.LogLevel = level
		}
	}

	if dir := normalizeLogDir(fc.LogDir); dir != "" {
		cfg.LogDir = dir
	}

	if fc.StartActive != nil {
		cfg.StartActive = *fc.StartActive
	}
	if fc.SingleInstance != nil {
		cfg.SingleInstance = *fc.SingleInstance
	}

	if s := strings.TrimSpace(fc.HookStopTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			slog.Warn("[WARN-CONFIG] hook_stop_timeout invalid, using default",
				"value", s, "default", cfg.HookStopTimeout, "error", err)
		} else {
			cfg.HookStopTimeout = clampStopTimeout(d)
		}
	}
}

func clampStopTimeout(d time.Duration) time.Duration {
	switch {
	case d < MinHookStopTimeout:
		slog.Warn("[WARN-CONFIG] hook_stop_timeout below minimum, clamping",
			"configured", d, "min", MinHookStopTimeout)
		return MinHookStopTimeout
	case d > MaxHookStopTimeout:
		slog.Warn("[WARN-CONFIG] hook_stop_timeout above maximum, clamping",
			"configured", d, "max", MaxHookStopTimeout)
		return MaxHookStopTimeout
	default:
		return d
	}
}

// ParseLevel maps debug|info|warn|error (any case) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// normalizeLogDir expands ~ and environment tokens and returns a clean
// absolute path, or "" when the value is empty or unusable.
func normalizeLogDir(raw string) string {
	dir := strings.TrimSpace(raw)
	if dir == "" {
		return ""
	}
	if strings.HasPrefix(dir, "~") {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] log_dir: failed to expand ~, ignoring", "path", dir, "error", err)
			return ""
		}
		dir = filepath.Join(home, dir[1:])
	}
	dir = filepath.Clean(expandEnv(dir))
	if !filepath.IsAbs(dir) {
		slog.Warn("[WARN-CONFIG] log_dir is not an absolute path, ignoring", "path", dir)
		return ""
	}
	return dir
}

func expandEnv(dir string) string {
	// Expand Windows-style %VAR% tokens on all platforms for portability.
	expanded := windowsEnvTokenPattern.ReplaceAllStringFunc(dir, func(token string) string {
		if value, ok := os.LookupEnv(token[1 : len(token)-1]); ok {
			return value
		}
		return token
	})
	// '$' is a valid character in Windows file paths.
	if runtime.GOOS == "windows" {
		return expanded
	}
	return posixEnvTokenPattern.ReplaceAllStringFunc(expanded, func(token string) string {
		key := strings.TrimPrefix(token, "$")
		key = strings.TrimPrefix(key, "{")
		key = strings.TrimSuffix(key, "}")
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
		return token
	})
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}
