package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sevlyar/go-daemon"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/tablease/internal/api"
	"github.com/dgnsrekt/tablease/internal/broker"
	"github.com/dgnsrekt/tablease/internal/cdpcontrol"
	"github.com/dgnsrekt/tablease/internal/config"
	"github.com/dgnsrekt/tablease/internal/exthost"
	"github.com/dgnsrekt/tablease/internal/logging"
	"github.com/dgnsrekt/tablease/internal/netutil"
	"github.com/dgnsrekt/tablease/internal/notify"
	"github.com/dgnsrekt/tablease/internal/snapshot"
	"github.com/dgnsrekt/tablease/internal/storage"
)

func main() {
	flags := pflag.NewFlagSet("tablease-broker", pflag.ExitOnError)
	detach := flags.Bool("detach", false, "fork into the background")
	socket := flags.String("socket", "", "socket path (overrides TABLEASE_SOCKET)")
	backend := flags.String("backend", "", "upstream backend: extension or cdp (overrides TABLEASE_BACKEND)")
	httpAddr := flags.String("http", "", "status API address (overrides TABLEASE_HTTP_ADDR)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadBroker()
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "failed to load broker config: "+err.Error()+"\n")
		os.Exit(1)
	}
	if *socket != "" {
		cfg.SocketPath = *socket
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	// A second broker racing for the socket exits quietly.
	if netutil.IsSocketLive(cfg.SocketPath) {
		return
	}

	if *detach {
		dctx := &daemon.Context{WorkDir: ".", Umask: 0o027}
		child, err := dctx.Reborn()
		if err != nil {
			_, _ = io.WriteString(os.Stderr, "detach failed: "+err.Error()+"\n")
			os.Exit(1)
		}
		if child != nil {
			return
		}
		defer func() { _ = dctx.Release() }()
	}

	console := io.Writer(os.Stderr)
	if *detach {
		console = io.Discard
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile, console); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("broker config loaded",
		"socket", cfg.SocketPath,
		"backend", cfg.Backend,
		"lease_ttl", cfg.LeaseTTL,
		"request_timeout", cfg.RequestTimeout,
		"http_addr", cfg.HTTPAddr,
		"audit_dir", cfg.AuditDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := run(cfg); err != nil {
		slog.Error("broker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.BrokerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snaps, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	up, cleanup := upstream(ctx, cfg, snaps)
	defer cleanup()

	ln, err := netutil.ListenUnix(cfg.SocketPath)
	if err != nil {
		if errors.Is(err, netutil.ErrSocketInUse) {
			slog.Info("another broker owns the socket, exiting", "socket", cfg.SocketPath)
			return nil
		}
		return fmt.Errorf("listen on %s: %w", cfg.SocketPath, err)
	}
	defer os.Remove(cfg.SocketPath)

	b := broker.New(up, broker.Options{
		TTL:            cfg.LeaseTTL,
		RequestTimeout: cfg.RequestTimeout,
		Backend:        cfg.Backend,
		Logger:         slog.Default(),
	})

	var httpLn net.Listener
	if cfg.HTTPAddr != "" {
		if httpLn, err = netutil.ListenTCP(cfg.HTTPAddr, cfg.PortCandidates, cfg.PortAutoFallback); err != nil {
			_ = ln.Close()
			return fmt.Errorf("status API listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("broker listening", "socket", cfg.SocketPath)
		return b.Serve(gctx, ln)
	})
	g.Go(func() error {
		b.RunSweeper(gctx)
		return nil
	})
	if cfg.AuditDir != "" {
		audit := storage.NewAudit(cfg.AuditDir, uuid.NewString()[:8], b.Hub())
		g.Go(func() error { return audit.Run(gctx) })
	}
	if cfg.NotifyURL != "" {
		n := notify.NewNotifier(b.Hub(), cfg.NotifyURL, &http.Client{Timeout: 10 * time.Second})
		g.Go(func() error { return n.Run(gctx) })
	}
	if httpLn != nil {
		srv := &http.Server{Handler: api.NewServer(b, snaps), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			addr := httpLn.Addr().String()
			slog.Info("status API listening", "addr", addr, "docs", "http://"+addr+"/docs")
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// upstream builds the backend tool calls are forwarded to.
func upstream(ctx context.Context, cfg *config.BrokerConfig, snaps *snapshot.Store) (broker.Upstream, func()) {
	switch cfg.Backend {
	case config.BackendCDP:
		client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.CallTimeout)
		if err := client.Connect(ctx); err != nil {
			// The client reconnects on demand; start anyway.
			slog.Warn("CDP not reachable yet", "cdp_url", cfg.CDPURL(), "error", err)
		}
		svc := exthost.NewService(exthost.CDPBrowser{Client: client}, exthost.Options{
			Snapshots:   snaps,
			DownloadDir: cfg.DownloadDir,
			Logger:      slog.Default(),
		})
		return svc, func() { _ = client.Close() }
	default:
		return broker.NewLink(slog.Default()), func() {}
	}
}
