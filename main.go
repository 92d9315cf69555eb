package main

import (
	"embed"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"toddlermode/internal/applog"
	"toddlermode/internal/config"
	"toddlermode/internal/ipc"
	"toddlermode/internal/singleinstance"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	os.Exit(run())
}

func run() int {
	configPath := config.DefaultPath()
	cfg, cfgErr := config.Load(configPath)

	app := NewApp(appOptions{configPath: configPath, cfg: cfg})
	for _, message := range config.ConsumeDefaultPathWarnings() {
		app.addStartupWarning(message)
	}
	if cfgErr != nil {
		// A broken config file is not fatal; defaults are used.
		app.addStartupWarning("Failed to load config file. Running with defaults. Error: " + cfgErr.Error())
	}

	// Single-instance check BEFORE any Wails/WebView2 initialization.
	if cfg.SingleInstance {
		mutexLock, lockErr := singleinstance.TryLock(singleinstance.DefaultName())
		if errors.Is(lockErr, singleinstance.ErrAlreadyRunning) {
			slog.Info("[DEBUG-SINGLE] another instance is already running, signaling activation")
			if _, sendErr := ipc.Send("", ipc.Request{Command: ipc.CommandActivateWindow}); sendErr != nil {
				slog.Warn("[DEBUG-SINGLE] failed to signal existing instance", "error", sendErr)
			}
			return 0
		}
		if lockErr != nil {
			slog.Warn("[DEBUG-SINGLE] mutex creation failed, proceeding without single-instance guard", "error", lockErr)
		}
		if mutexLock != nil {
			defer func() {
				if releaseErr := mutexLock.Release(); releaseErr != nil {
					slog.Warn("[DEBUG-SINGLE] mutex release failed", "error", releaseErr)
				}
			}()
		}
	}

	logger, err := applog.Setup(cfg.LogDir, cfg.LogLevel, app.sessionLog.Add)
	if err != nil {
		app.addStartupWarning("Log file unavailable, logging to stderr only. Error: " + err.Error())
	}
	app.setLogger(logger)
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			slog.Warn("[applog] close failed", "error", closeErr)
		}
	}()

	// The hook must be released on every way out of run.
	defer app.teardown()
	defer func() { app.handleMainPanic(recover()) }()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go app.awaitTermination(signals)

	err = wails.Run(&options.App{
		Title:     "Toddler Mode",
		Width:     800,
		Height:    600,
		MinWidth:  480,
		MinHeight: 360,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 250, G: 246, B: 238, A: 1},
		OnStartup:        app.startup,
		OnBeforeClose:    app.beforeClose,
		OnShutdown:       app.shutdown,
		Bind: []any{
			app,
		},
	})
	if err != nil {
		slog.Error("[DEBUG-SINGLE] wails run failed", "error", err)
		return 1
	}
	return 0
}
