package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgnsrekt/tablease/internal/browser"
	"github.com/dgnsrekt/tablease/internal/cdpcontrol"
	"github.com/dgnsrekt/tablease/internal/config"
	"github.com/dgnsrekt/tablease/internal/exthost"
	"github.com/dgnsrekt/tablease/internal/logging"
	"github.com/dgnsrekt/tablease/internal/snapshot"
)

func main() {
	cfg, err := config.LoadHost()
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "failed to load host config: "+err.Error()+"\n")
		os.Exit(1)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile, os.Stdout); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("host config loaded",
		"cdp_url", cfg.CDPURL(),
		"relay_bin", cfg.RelayBin,
		"launch_browser", cfg.LaunchBrowser,
		"startup_tabs", cfg.StartupTabsPath,
		"snapshot_dir", cfg.SnapshotDir,
		"download_dir", cfg.DownloadDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.CallTimeout)
	if err := client.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	snaps, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		slog.Error("failed to open snapshot store", "dir", cfg.SnapshotDir, "error", err)
		os.Exit(1)
	}
	svc := exthost.NewService(exthost.CDPBrowser{Client: client}, exthost.Options{
		Snapshots:   snaps,
		DownloadDir: cfg.DownloadDir,
		Logger:      slog.Default(),
	})

	tabs, err := config.LoadStartupTabs(cfg.StartupTabsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("no startup tabs config", "path", cfg.StartupTabsPath)
	case err != nil:
		slog.Warn("ignoring startup tabs config", "path", cfg.StartupTabsPath, "error", err)
	default:
		n := exthost.OpenStartupTabs(ctx, svc, tabs.Tabs, slog.Default())
		slog.Info("startup tabs opened", "count", n, "configured", len(tabs.Tabs))
	}

	host := exthost.NewHost(svc, exthost.HostOptions{RelayBin: cfg.RelayBin, Logger: slog.Default()})
	if err := host.Run(ctx); err != nil {
		slog.Error("host failed", "error", err)
		os.Exit(1)
	}
	slog.Info("host stopped")
}
