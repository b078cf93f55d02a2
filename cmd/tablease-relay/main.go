package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgnsrekt/tablease/internal/config"
	"github.com/dgnsrekt/tablease/internal/connect"
	"github.com/dgnsrekt/tablease/internal/logging"
	"github.com/dgnsrekt/tablease/internal/relay"
)

// The browser launches this binary with the extension origin as its only
// argument and speaks native messaging on stdin/stdout, so stdout must never
// carry logs.
func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "failed to load relay config: "+err.Error()+"\n")
		os.Exit(1)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile, os.Stderr); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}
	slog.Info("relay started", "socket", cfg.SocketPath, "broker_bin", cfg.BrokerBin, "args", os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := relay.New(os.Stdin, os.Stdout, relay.Options{
		Dial: func(ctx context.Context) (net.Conn, error) {
			return connect.Dial(ctx, connect.Options{
				SocketPath: cfg.SocketPath,
				BrokerBin:  cfg.BrokerBin,
				AutoStart:  true,
			})
		},
		Logger: slog.Default(),
	})
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("relay failed", "error", err)
		os.Exit(1)
	}
	slog.Info("relay stopped")
}
