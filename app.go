package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"toddlermode/internal/applog"
	"toddlermode/internal/config"
	"toddlermode/internal/hook"
	"toddlermode/internal/ipc"
	"toddlermode/internal/mode"
	"toddlermode/internal/sessionlog"
)

// App is the Wails-bound application service.
type App struct {
	// Runtime context lifecycle.
	ctx   context.Context
	ctxMu sync.RWMutex

	// Configuration. configPath is read-only after NewApp.
	// Independent locks: cfgMu, ctxMu, startupWarnMu, loggerMu.
	cfgMu      sync.RWMutex
	cfg        config.Config
	configPath string

	startupWarnMu   sync.Mutex
	startupWarnings []string

	loggerMu sync.RWMutex
	logger   *applog.Logger

	// Backend services.
	sessionLog *sessionlog.Buffer
	hooks      hook.Installer
	mode       *mode.Controller
	pipeServer *ipc.PipeServer

	// lastChangeSeq is the Seq of the newest mode change applied to the window.
	lastChangeSeq atomic.Uint64
	shuttingDown  atomic.Bool // set at the start of teardown(); checked by window updates and workers

	// Background workers run under bgCtx and are cancelled by teardown.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	teardownOnce sync.Once
}

type appOptions struct {
	configPath string
	cfg        config.Config
	// installer defaults to a hook.Manager using cfg.HookStopTimeout.
	installer hook.Installer
	// modeOptions are passed to mode.New.
	modeOptions []mode.Option
}

// NewApp creates a new App application struct.
func NewApp(opts appOptions) *App {
	installer := opts.installer
	if installer == nil {
		installer = hook.NewManager(hook.WithStopTimeout(opts.cfg.HookStopTimeout))
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        opts.cfg,
		configPath: opts.configPath,
		hooks:      installer,
		bgCtx:      bgCtx,
		bgCancel:   bgCancel,
	}
	a.sessionLog = sessionlog.NewBuffer(sessionlog.DefaultCapacity, a.notifySessionLogUpdated)
	a.mode = mode.New(installer, opts.modeOptions...)
	a.mode.OnModeChanged(a.handleModeChanged)
	a.mode.OnClearFocus(a.handleClearFocus)
	return a
}

func (a *App) setLogger(l *applog.Logger) {
	a.loggerMu.Lock()
	a.logger = l
	a.loggerMu.Unlock()
}

func (a *App) currentLogger() *applog.Logger {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	return a.logger
}

func (a *App) getConfigSnapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

func (a *App) setConfigSnapshot(cfg config.Config) config.Config {
	a.cfgMu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.cfgMu.Unlock()
	return prev
}

// applyConfigReload takes the settings that can change while running. The
// others are logged and used from the next start.
func (a *App) applyConfigReload(cfg config.Config) {
	prev := a.setConfigSnapshot(cfg)
	if l := a.currentLogger(); l != nil {
		l.SetLevel(cfg.LogLevel)
	}
	if prev.HookStopTimeout != cfg.HookStopTimeout ||
		prev.SingleInstance != cfg.SingleInstance ||
		prev.LogDir != cfg.LogDir {
		slog.Info("[config] some settings take effect after restart",
			"hookStopTimeout", cfg.HookStopTimeout,
			"singleInstance", cfg.SingleInstance,
			"logDir", cfg.LogDir,
		)
	}
}
