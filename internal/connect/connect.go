// Package connect dials the broker socket, starting the broker on demand.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

const (
	DefaultAttempts = 50
	DefaultInterval = 100 * time.Millisecond
)

// Options configures Dial. Zero values fall back to the defaults above.
type Options struct {
	SocketPath string
	// BrokerBin is started with --detach when the first dial fails.
	BrokerBin string
	AutoStart bool
	Attempts  int
	Interval  time.Duration
	Logger    *slog.Logger
	// Spawn replaces the default broker start; used by tests.
	Spawn func() error
}

// Dial connects to the broker socket. When nothing answers and AutoStart
// is set it launches a detached broker and retries until one accepts.
func Dial(ctx context.Context, opts Options) (net.Conn, error) {
	if opts.SocketPath == "" {
		return nil, types.NewError(types.CodeValidation, "broker socket path is empty", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dialOnce(ctx, opts.SocketPath)
	if err == nil {
		return conn, nil
	}
	if !opts.AutoStart {
		return nil, types.NewError(types.CodeConnectTimeout,
			fmt.Sprintf("could not connect to broker at %s", opts.SocketPath), err)
	}

	spawn := opts.Spawn
	if spawn == nil {
		spawn = func() error { return startBroker(opts.BrokerBin) }
	}
	logger.Info("broker not running, starting it", "socket", opts.SocketPath, "bin", opts.BrokerBin)
	if err := spawn(); err != nil {
		return nil, types.NewError(types.CodeConnectTimeout, "could not start broker", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return nil, types.NewError(types.CodeConnectTimeout, "could not connect to broker", ctx.Err())
		case <-ticker.C:
		}
		if conn, err = dialOnce(ctx, opts.SocketPath); err == nil {
			logger.Debug("connected to started broker", "attempt", i+1)
			return conn, nil
		}
	}
	return nil, types.NewError(types.CodeConnectTimeout,
		fmt.Sprintf("could not connect to broker at %s after %d attempts", opts.SocketPath, attempts), err)
}

func dialOnce(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return d.DialContext(dctx, "unix", path)
}

// startBroker launches bin --detach in its own session and does not wait
// for it.
func startBroker(bin string) error {
	if bin == "" {
		return fmt.Errorf("broker binary not configured")
	}
	cmd := exec.Command(bin, "--detach") //nolint:gosec // G204: path comes from local configuration
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	// --detach makes the child exit once the daemon is forked; reap it.
	go func() { _ = cmd.Wait() }()
	return nil
}
